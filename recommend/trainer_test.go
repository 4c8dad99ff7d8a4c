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

package recommend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/model/cf"
	"github.com/migumax/dockerized-recommender/storage"
	"github.com/stretchr/testify/assert"
)

func newTestTrainer(t *testing.T) (*Trainer, *config.Config) {
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Data.DataPath = filepath.Join(dir, "data.csv")
	cfg.Data.CleanDataPath = filepath.Join(dir, "data_clean.csv")
	cfg.Data.AuxiliaryPath = filepath.Join(dir, "auxiliary")
	cfg.Data.ModelPath = filepath.Join(dir, "model", "recommender.model")
	cfg.Model.NFactors = 8
	cfg.Model.NEpochs = 5
	cfg.Model.FitJobs = 1
	cfg.Model.TopK = 2
	cfg.Model.Verbose = 10
	cfg.Model.RandomState = 42
	return NewTrainer(cfg, storage.NewStore(cfg.Data)), cfg
}

func writeRawData(t *testing.T, path string) {
	var b strings.Builder
	b.WriteString("InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n")
	row := func(invoice, stock, desc string, quantity int, customer, country string) {
		b.WriteString(fmt.Sprintf("%s,%s,%s,%d,12/1/2011 8:26,2.55,%s,%s\n",
			invoice, stock, desc, quantity, customer, country))
	}
	// three customers with overlapping purchases
	row("536365", "10001", "MUG", 6, "17850", "United Kingdom")
	row("536365", "10002", "BOWL", 2, "17850", "United Kingdom")
	row("536366", "10002", "BOWL", 1, "17851", "United Kingdom")
	row("536366", "10003", "PLATE", 4, "17851", "United Kingdom")
	row("536367", "10001", "MUG", 3, "17852", "United Kingdom")
	row("536367", "10003", "PLATE", 1, "17852", "United Kingdom")
	// rows dropped during cleaning
	row("C536368", "10001", "MUG", 6, "17850", "United Kingdom")
	row("536369", "10002", "BOWL", -2, "17851", "United Kingdom")
	row("536370", "10003", "PLATE", 1, "12583", "France")
	row("536371", "10001", "MUG", 2, "", "United Kingdom")
	assert.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
}

func TestTrain(t *testing.T) {
	trainer, cfg := newTestTrainer(t)
	writeRawData(t, cfg.Data.DataPath)
	result, err := trainer.Train()
	assert.NoError(t, err)
	// metric keys follow the evaluation cutoff
	assert.Contains(t, result.Metrics, "precision_at_2")
	assert.Contains(t, result.Metrics, "recall_at_2")
	assert.Contains(t, result.Metrics, "auc_score")
	for name, value := range result.Metrics {
		assert.GreaterOrEqual(t, value, 0, name)
		assert.LessOrEqual(t, value, 100, name)
	}
	// the table contains the surviving rows only
	table := result.Artifacts.Table
	assert.Equal(t, []int{17850, 17851, 17852}, table.UserIDs())
	assert.Equal(t, []string{"10001", "10002", "10003"}, table.ItemIDs())
	assert.Equal(t, map[string]int{"17850": 0, "17851": 1, "17852": 2}, result.Artifacts.UserDict)
	assert.Equal(t, map[string]string{"10001": "MUG", "10002": "BOWL", "10003": "PLATE"},
		result.Artifacts.ItemDict)
	// every artifact is persisted
	for _, path := range []string{
		cfg.Data.CleanDataPath,
		filepath.Join(cfg.Data.AuxiliaryPath, "interactions.csv"),
		filepath.Join(cfg.Data.AuxiliaryPath, "user_dict.json"),
		filepath.Join(cfg.Data.AuxiliaryPath, "item_dict.json"),
		cfg.Data.ModelPath,
	} {
		_, err = os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestLoadArtifacts(t *testing.T) {
	trainer, cfg := newTestTrainer(t)
	writeRawData(t, cfg.Data.DataPath)
	result, err := trainer.Train()
	assert.NoError(t, err)
	artifacts, err := trainer.LoadArtifacts()
	assert.NoError(t, err)
	assert.Equal(t, result.Artifacts.Table.UserIDs(), artifacts.Table.UserIDs())
	assert.Equal(t, result.Artifacts.Table.ItemIDs(), artifacts.Table.ItemIDs())
	assert.Equal(t, result.Artifacts.UserDict, artifacts.UserDict)
	assert.Equal(t, result.Artifacts.ItemDict, artifacts.ItemDict)
	// the reloaded model predicts identically
	for u := int32(0); u < 3; u++ {
		for i := int32(0); i < 3; i++ {
			assert.Equal(t, result.Artifacts.Model.InternalPredict(u, i),
				artifacts.Model.InternalPredict(u, i))
		}
	}
}

func TestLoadArtifactsMissing(t *testing.T) {
	trainer, _ := newTestTrainer(t)
	_, err := trainer.LoadArtifacts()
	assert.Error(t, err)
}

func TestTrainMissingData(t *testing.T) {
	trainer, _ := newTestTrainer(t)
	_, err := trainer.Train()
	assert.Error(t, err)
}

func TestScoreMetricsRounding(t *testing.T) {
	metrics := scoreMetrics(cf.Score{Precision: 0.336, Recall: 0.8, AUC: 0.5}, 3)
	assert.Equal(t, 34, metrics["precision_at_3"])
	assert.Equal(t, 80, metrics["recall_at_3"])
	assert.Equal(t, 50, metrics["auc_score"])
}
