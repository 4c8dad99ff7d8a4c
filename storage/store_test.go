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

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/dataset"
	"github.com/migumax/dockerized-recommender/model"
	"github.com/migumax/dockerized-recommender/model/cf"
	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) *Store {
	dir := t.TempDir()
	cfg := config.GetDefaultConfig().Data
	cfg.DataPath = filepath.Join(dir, "data.csv")
	cfg.CleanDataPath = filepath.Join(dir, "data_clean.csv")
	cfg.AuxiliaryPath = filepath.Join(dir, "auxiliary")
	cfg.ModelPath = filepath.Join(dir, "model", "recommender.model")
	return NewStore(cfg)
}

func TestLoadTransactions(t *testing.T) {
	store := newTestStore(t)
	raw := "InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n" +
		"536365,85123A,\"HOLDER, HEART\",6,12/1/2011 8:26,2.55,17850,United Kingdom\n" +
		"536366,71053,WHITE METAL LANTERN,6,12/1/2011 8:28,3.39,,United Kingdom\n"
	assert.NoError(t, os.WriteFile(store.cfg.DataPath, []byte(raw), 0644))
	transactions, err := store.LoadTransactions()
	assert.NoError(t, err)
	assert.Len(t, transactions, 2)
	assert.Equal(t, "536365", transactions[0].InvoiceNo)
	assert.Equal(t, "85123A", transactions[0].StockCode)
	assert.Equal(t, "HOLDER, HEART", transactions[0].Description)
	assert.Equal(t, 6, transactions[0].Quantity)
	assert.Equal(t, "12/1/2011 8:26", transactions[0].InvoiceDate)
	assert.Equal(t, 2.55, transactions[0].UnitPrice)
	assert.Equal(t, float64(17850), transactions[0].CustomerID)
	assert.Equal(t, "United Kingdom", transactions[0].Country)
	// an empty customer id loads as NaN
	assert.True(t, transactions[1].MissingCustomerID())
}

func TestLoadTransactionsReorderedColumns(t *testing.T) {
	store := newTestStore(t)
	raw := "Country,CustomerID,UnitPrice,InvoiceDate,Quantity,Description,StockCode,InvoiceNo\n" +
		"United Kingdom,17850,2.55,12/1/2011 8:26,6,MUG,85123A,536365\n"
	assert.NoError(t, os.WriteFile(store.cfg.DataPath, []byte(raw), 0644))
	transactions, err := store.LoadTransactions()
	assert.NoError(t, err)
	assert.Len(t, transactions, 1)
	assert.Equal(t, "536365", transactions[0].InvoiceNo)
	assert.Equal(t, "MUG", transactions[0].Description)
}

func TestLoadTransactionsMissingColumn(t *testing.T) {
	store := newTestStore(t)
	raw := "InvoiceNo,StockCode\n536365,85123A\n"
	assert.NoError(t, os.WriteFile(store.cfg.DataPath, []byte(raw), 0644))
	_, err := store.LoadTransactions()
	assert.Error(t, err)
}

func TestLoadTransactionsBadQuantity(t *testing.T) {
	store := newTestStore(t)
	raw := "InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n" +
		"536365,85123A,MUG,six,12/1/2011 8:26,2.55,17850,United Kingdom\n"
	assert.NoError(t, os.WriteFile(store.cfg.DataPath, []byte(raw), 0644))
	_, err := store.LoadTransactions()
	assert.Error(t, err)
}

func TestSaveTransactions(t *testing.T) {
	store := newTestStore(t)
	cleaned := []dataset.Transaction{{
		InvoiceNo:   "536365",
		StockCode:   "85123A",
		Description: "HOLDER, HEART",
		Quantity:    6,
		InvoiceDate: "12/1/2011 8:26",
		UnitPrice:   2.55,
		CustomerID:  17850,
		Country:     "United Kingdom",
		Year:        2011,
		Revenue:     15.3,
	}}
	assert.NoError(t, store.SaveTransactions(cleaned))
	data, err := os.ReadFile(store.cfg.CleanDataPath)
	assert.NoError(t, err)
	assert.Equal(t, "InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country,Year,Revenue\n"+
		"536365,85123A,\"HOLDER, HEART\",6,12/1/2011 8:26,2.55,17850,United Kingdom,2011,15.3\n", string(data))
}

func TestTableRoundTrip(t *testing.T) {
	store := newTestStore(t)
	table := dataset.NewTable([]int{17850, 17851}, []string{"71053", "85123A"}, [][]float32{
		{1, 0},
		{0, 1},
	})
	assert.NoError(t, store.SaveTable(table))
	decoded, err := store.LoadTable()
	assert.NoError(t, err)
	assert.Equal(t, table.UserIDs(), decoded.UserIDs())
	assert.Equal(t, table.ItemIDs(), decoded.ItemIDs())
	for u := 0; u < table.CountUsers(); u++ {
		for i := 0; i < table.CountItems(); i++ {
			assert.Equal(t, table.Value(u, i), decoded.Value(u, i))
		}
	}
}

func TestDictRoundTrip(t *testing.T) {
	store := newTestStore(t)
	userDict := map[string]int{"17850": 0, "17851": 1}
	assert.NoError(t, store.SaveUserDict(userDict))
	decodedUsers, err := store.LoadUserDict()
	assert.NoError(t, err)
	assert.Equal(t, userDict, decodedUsers)

	itemDict := map[string]string{"85123A": "HOLDER", "71053": "LANTERN"}
	assert.NoError(t, store.SaveItemDict(itemDict))
	decodedItems, err := store.LoadItemDict()
	assert.NoError(t, err)
	assert.Equal(t, itemDict, decodedItems)
}

func TestModelRoundTrip(t *testing.T) {
	store := newTestStore(t)
	mf := cf.NewMF(model.Params{model.NFactors: 2})
	mf.UserFactor = [][]float32{{0.1, 0.2}}
	mf.ItemFactor = [][]float32{{0.3, 0.4}, {0.5, 0.6}}
	mf.UserPredictable = bitset.New(1)
	mf.UserPredictable.Set(0)
	mf.ItemPredictable = bitset.New(2)
	mf.ItemPredictable.Set(0).Set(1)
	assert.NoError(t, store.SaveModel(mf))
	decoded, err := store.LoadModel()
	assert.NoError(t, err)
	assert.Equal(t, 1, decoded.CountUsers())
	assert.Equal(t, 2, decoded.CountItems())
	assert.Equal(t, mf.InternalPredict(0, 1), decoded.InternalPredict(0, 1))
}

func TestLoadModelMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadModel()
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.SaveUserDict(map[string]int{"17850": 0}))
	mf := cf.NewMF(model.Params{model.NFactors: 1})
	mf.UserFactor = [][]float32{{1}}
	mf.ItemFactor = [][]float32{{1}}
	mf.UserPredictable = bitset.New(1)
	mf.ItemPredictable = bitset.New(1)
	assert.NoError(t, store.SaveModel(mf))

	assert.NoError(t, store.Wipe())
	// artifacts are gone
	_, err := store.LoadUserDict()
	assert.Error(t, err)
	_, err = store.LoadModel()
	assert.Error(t, err)
	// empty directories are recreated
	entries, err := os.ReadDir(store.cfg.AuxiliaryPath)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	entries, err = os.ReadDir(filepath.Dir(store.cfg.ModelPath))
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
