// Copyright 2024 dockerized-recommender Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage persists the artifacts of a training run: the cleaned
// transaction log, the interaction table, the lookup dictionaries and the
// trained model.
package storage

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/migumax/dockerized-recommender/base"
	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/dataset"
	"github.com/migumax/dockerized-recommender/model/cf"
)

const (
	interactionsFile = "interactions.csv"
	userDictFile     = "user_dict.json"
	itemDictFile     = "item_dict.json"
)

// Store reads and writes training artifacts under the configured paths.
type Store struct {
	cfg config.DataConfig
}

// NewStore creates a store from the data configuration.
func NewStore(cfg config.DataConfig) *Store {
	return &Store{cfg: cfg}
}

// LoadTransactions reads the raw transaction log. Columns are located by the
// configured schema, so a dataset with reordered or extra columns still loads.
// An empty customer id field becomes NaN.
func (s *Store) LoadTransactions() ([]dataset.Transaction, error) {
	file, err := os.Open(s.cfg.DataPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	var (
		columns      map[string]int
		transactions []dataset.Transaction
		parseErr     error
	)
	err = base.ReadLines(bufio.NewScanner(file), ",", func(lineNumber int, fields []string) bool {
		if lineNumber == 0 {
			columns = make(map[string]int, len(fields))
			for i, name := range fields {
				columns[name] = i
			}
			if parseErr = s.checkSchema(columns); parseErr != nil {
				return false
			}
			return true
		}
		var t dataset.Transaction
		if t, parseErr = s.parseTransaction(columns, fields); parseErr != nil {
			parseErr = errors.Annotatef(parseErr, "parse transaction at line %d", lineNumber)
			return false
		}
		transactions = append(transactions, t)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	return transactions, nil
}

func (s *Store) checkSchema(columns map[string]int) error {
	schema := s.cfg.Schema
	for _, name := range []string{
		schema.InvoiceNoColumn, schema.StockCodeColumn, schema.DescriptionColumn,
		schema.QuantityColumn, schema.InvoiceDateColumn, schema.UnitPriceColumn,
		schema.CustomerIDColumn, schema.CountryColumn,
	} {
		if _, ok := columns[name]; !ok {
			return errors.NotValidf("dataset without column %q", name)
		}
	}
	return nil
}

func (s *Store) parseTransaction(columns map[string]int, fields []string) (dataset.Transaction, error) {
	schema := s.cfg.Schema
	field := func(name string) (string, error) {
		i := columns[name]
		if i >= len(fields) {
			return "", errors.NotValidf("row with %d fields", len(fields))
		}
		return fields[i], nil
	}
	var t dataset.Transaction
	var err error
	if t.InvoiceNo, err = field(schema.InvoiceNoColumn); err != nil {
		return t, err
	}
	if t.StockCode, err = field(schema.StockCodeColumn); err != nil {
		return t, err
	}
	if t.Description, err = field(schema.DescriptionColumn); err != nil {
		return t, err
	}
	if t.InvoiceDate, err = field(schema.InvoiceDateColumn); err != nil {
		return t, err
	}
	if t.Country, err = field(schema.CountryColumn); err != nil {
		return t, err
	}
	quantity, err := field(schema.QuantityColumn)
	if err != nil {
		return t, err
	}
	if t.Quantity, err = strconv.Atoi(quantity); err != nil {
		return t, errors.Trace(err)
	}
	unitPrice, err := field(schema.UnitPriceColumn)
	if err != nil {
		return t, err
	}
	if t.UnitPrice, err = strconv.ParseFloat(unitPrice, 64); err != nil {
		return t, errors.Trace(err)
	}
	customerID, err := field(schema.CustomerIDColumn)
	if err != nil {
		return t, err
	}
	if strings.TrimSpace(customerID) == "" {
		t.CustomerID = math.NaN()
	} else if t.CustomerID, err = strconv.ParseFloat(customerID, 64); err != nil {
		return t, errors.Trace(err)
	}
	return t, nil
}

// SaveTransactions writes the cleaned transaction log, including the derived
// year and revenue columns.
func (s *Store) SaveTransactions(cleaned []dataset.Transaction) error {
	schema := s.cfg.Schema
	return writeFile(s.cfg.CleanDataPath, func(w *bufio.Writer) error {
		header := strings.Join([]string{
			schema.InvoiceNoColumn, schema.StockCodeColumn, schema.DescriptionColumn,
			schema.QuantityColumn, schema.InvoiceDateColumn, schema.UnitPriceColumn,
			schema.CustomerIDColumn, schema.CountryColumn, "Year", "Revenue",
		}, ",")
		if _, err := w.WriteString(header + "\n"); err != nil {
			return errors.Trace(err)
		}
		for _, t := range cleaned {
			row := strings.Join([]string{
				base.Escape(t.InvoiceNo),
				base.Escape(t.StockCode),
				base.Escape(t.Description),
				strconv.Itoa(t.Quantity),
				base.Escape(t.InvoiceDate),
				strconv.FormatFloat(t.UnitPrice, 'f', -1, 64),
				strconv.Itoa(int(math.Round(t.CustomerID))),
				base.Escape(t.Country),
				strconv.Itoa(t.Year),
				strconv.FormatFloat(t.Revenue, 'f', -1, 64),
			}, ",")
			if _, err := w.WriteString(row + "\n"); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	})
}

// SaveTable writes the interaction table as a CSV pivot. The first column
// holds customer ids, the remaining columns are labeled by stock codes.
func (s *Store) SaveTable(table *dataset.Table) error {
	return writeFile(s.tablePath(), func(w *bufio.Writer) error {
		header := make([]string, 0, table.CountItems()+1)
		header = append(header, s.cfg.Schema.CustomerIDColumn)
		for _, itemID := range table.ItemIDs() {
			header = append(header, base.Escape(itemID))
		}
		if _, err := w.WriteString(strings.Join(header, ",") + "\n"); err != nil {
			return errors.Trace(err)
		}
		for userIndex, userID := range table.UserIDs() {
			row := make([]string, 0, table.CountItems()+1)
			row = append(row, strconv.Itoa(userID))
			for itemIndex := 0; itemIndex < table.CountItems(); itemIndex++ {
				row = append(row, strconv.FormatFloat(float64(table.Value(userIndex, itemIndex)), 'f', -1, 32))
			}
			if _, err := w.WriteString(strings.Join(row, ",") + "\n"); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	})
}

// LoadTable reads the interaction table persisted by SaveTable.
func (s *Store) LoadTable() (*dataset.Table, error) {
	file, err := os.Open(s.tablePath())
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	var (
		itemIDs  []string
		userIDs  []int
		cells    [][]float32
		parseErr error
	)
	err = base.ReadLines(bufio.NewScanner(file), ",", func(lineNumber int, fields []string) bool {
		if lineNumber == 0 {
			itemIDs = append(itemIDs, fields[1:]...)
			return true
		}
		var userID int
		if userID, parseErr = strconv.Atoi(fields[0]); parseErr != nil {
			parseErr = errors.Annotatef(parseErr, "parse customer id at line %d", lineNumber)
			return false
		}
		row := make([]float32, len(fields)-1)
		for i, field := range fields[1:] {
			var value float64
			if value, parseErr = strconv.ParseFloat(field, 32); parseErr != nil {
				parseErr = errors.Annotatef(parseErr, "parse cell at line %d", lineNumber)
				return false
			}
			row[i] = float32(value)
		}
		userIDs = append(userIDs, userID)
		cells = append(cells, row)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if parseErr != nil {
		return nil, errors.Trace(parseErr)
	}
	return dataset.NewTable(userIDs, itemIDs, cells), nil
}

// SaveUserDict writes the customer id to row index dictionary.
func (s *Store) SaveUserDict(userDict map[string]int) error {
	return writeJSON(filepath.Join(s.cfg.AuxiliaryPath, userDictFile), userDict)
}

// LoadUserDict reads the customer id to row index dictionary.
func (s *Store) LoadUserDict() (map[string]int, error) {
	userDict := make(map[string]int)
	err := readJSON(filepath.Join(s.cfg.AuxiliaryPath, userDictFile), &userDict)
	return userDict, err
}

// SaveItemDict writes the stock code to description dictionary.
func (s *Store) SaveItemDict(itemDict map[string]string) error {
	return writeJSON(filepath.Join(s.cfg.AuxiliaryPath, itemDictFile), itemDict)
}

// LoadItemDict reads the stock code to description dictionary.
func (s *Store) LoadItemDict() (map[string]string, error) {
	itemDict := make(map[string]string)
	err := readJSON(filepath.Join(s.cfg.AuxiliaryPath, itemDictFile), &itemDict)
	return itemDict, err
}

// SaveModel writes the trained model.
func (s *Store) SaveModel(m cf.MatrixFactorization) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.ModelPath), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	file, err := os.Create(s.cfg.ModelPath)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err = cf.MarshalModel(w, m); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.Flush())
}

// LoadModel reads a trained model.
func (s *Store) LoadModel() (cf.MatrixFactorization, error) {
	file, err := os.Open(s.cfg.ModelPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	m, err := cf.UnmarshalModel(bufio.NewReader(file))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

// Wipe deletes the persisted model and the auxiliary artifacts, then
// recreates the empty directories.
func (s *Store) Wipe() error {
	modelDir := filepath.Dir(s.cfg.ModelPath)
	for _, dir := range []string{s.cfg.AuxiliaryPath, modelDir} {
		if err := os.RemoveAll(dir); err != nil {
			return errors.Trace(err)
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (s *Store) tablePath() string {
	return filepath.Join(s.cfg.AuxiliaryPath, interactionsFile)
}

func writeFile(path string, write func(w *bufio.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err = write(w); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(w.Flush())
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Trace(err)
	}
	if err = os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.WriteFile(path, data, 0644))
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(json.Unmarshal(data, v))
}
