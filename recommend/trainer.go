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
	"math"
	"time"

	"github.com/juju/errors"
	"github.com/migumax/dockerized-recommender/base/log"
	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/dataset"
	"github.com/migumax/dockerized-recommender/model"
	"github.com/migumax/dockerized-recommender/model/cf"
	"github.com/migumax/dockerized-recommender/storage"
	"go.uber.org/zap"
)

// Artifacts bundles everything a recommendation query needs: the trained
// model, the interaction table, the lookup dictionaries and the item distance
// matrix. A bundle is immutable once built, so queries can share it without
// locking.
type Artifacts struct {
	Model     cf.MatrixFactorization
	Table     *dataset.Table
	UserDict  map[string]int
	ItemDict  map[string]string
	Distances *DistanceMatrix
}

// TrainResult reports the quality of a training run. Metrics are percentages
// rounded to integers.
type TrainResult struct {
	Score     cf.Score
	Metrics   map[string]int
	Artifacts *Artifacts
}

// Trainer runs the full training pipeline: load, clean, pivot, fit, persist.
type Trainer struct {
	cfg   *config.Config
	store *storage.Store
}

// NewTrainer creates a trainer.
func NewTrainer(cfg *config.Config, store *storage.Store) *Trainer {
	return &Trainer{cfg: cfg, store: store}
}

// Train rebuilds every artifact from the raw transaction log and fits a fresh
// model. All artifacts are persisted before the result is returned, so a
// restarted server picks up the latest run.
func (t *Trainer) Train() (*TrainResult, error) {
	start := time.Now()
	transactions, err := t.store.LoadTransactions()
	if err != nil {
		return nil, errors.Trace(err)
	}
	cleaned, err := dataset.Clean(transactions, t.cleanRules())
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("cleaned transactions",
		zap.Int("n_raw", len(transactions)),
		zap.Int("n_cleaned", len(cleaned)))
	if err = t.store.SaveTransactions(cleaned); err != nil {
		return nil, errors.Trace(err)
	}
	// pivot into the interaction table and derive the dictionaries
	table := dataset.BuildTable(cleaned)
	userDict := dataset.CreateUserDict(table)
	itemDict := dataset.CreateItemDict(cleaned)
	log.Logger().Info("built interaction table",
		zap.Int("n_users", table.CountUsers()),
		zap.Int("n_items", table.CountItems()),
		zap.Int("n_feedback", table.CountFeedback()))
	if err = t.store.SaveTable(table); err != nil {
		return nil, errors.Trace(err)
	}
	if err = t.store.SaveUserDict(userDict); err != nil {
		return nil, errors.Trace(err)
	}
	if err = t.store.SaveItemDict(itemDict); err != nil {
		return nil, errors.Trace(err)
	}
	// fit the model
	mf := cf.NewMF(model.Params{
		model.Loss:        t.cfg.Model.Loss,
		model.NFactors:    t.cfg.Model.NFactors,
		model.NEpochs:     t.cfg.Model.NEpochs,
		model.Lr:          t.cfg.Model.Lr,
		model.Reg:         t.cfg.Model.Reg,
		model.RandomState: int64(t.cfg.Model.RandomState),
	})
	fitConfig := cf.NewFitConfig().
		SetJobs(t.cfg.Model.FitJobs).
		SetTopK(t.cfg.Model.TopK).
		SetVerbose(t.cfg.Model.Verbose)
	score, err := mf.Fit(table, fitConfig)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = t.store.SaveModel(mf); err != nil {
		return nil, errors.Trace(err)
	}
	distances, err := ItemDistanceMatrix(mf, table, t.cfg.Model.FitJobs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("completed training",
		zap.Float32("precision", score.Precision),
		zap.Float32("recall", score.Recall),
		zap.Float32("auc", score.AUC),
		zap.Duration("duration", time.Since(start)))
	return &TrainResult{
		Score:   score,
		Metrics: scoreMetrics(score, t.cfg.Model.TopK),
		Artifacts: &Artifacts{
			Model:     mf,
			Table:     table,
			UserDict:  userDict,
			ItemDict:  itemDict,
			Distances: distances,
		},
	}, nil
}

// LoadArtifacts restores the artifacts of the latest training run from disk.
func (t *Trainer) LoadArtifacts() (*Artifacts, error) {
	m, err := t.store.LoadModel()
	if err != nil {
		return nil, errors.Trace(err)
	}
	table, err := t.store.LoadTable()
	if err != nil {
		return nil, errors.Trace(err)
	}
	userDict, err := t.store.LoadUserDict()
	if err != nil {
		return nil, errors.Trace(err)
	}
	itemDict, err := t.store.LoadItemDict()
	if err != nil {
		return nil, errors.Trace(err)
	}
	distances, err := ItemDistanceMatrix(m, table, t.cfg.Model.FitJobs)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Artifacts{
		Model:     m,
		Table:     table,
		UserDict:  userDict,
		ItemDict:  itemDict,
		Distances: distances,
	}, nil
}

func (t *Trainer) cleanRules() dataset.CleanRules {
	rules := dataset.DefaultCleanRules()
	rules.DateLayout = t.cfg.Data.Clean.DateLayout
	rules.Country = t.cfg.Data.Clean.Country
	rules.Year = t.cfg.Data.Clean.Year
	rules.MinUnitPrice = t.cfg.Data.Clean.MinUnitPrice
	rules.InvoicePrefixes = t.cfg.Data.Clean.InvoicePrefixes
	return rules
}

// scoreMetrics converts scores in [0,1] to rounded percentages keyed by the
// evaluation cutoff.
func scoreMetrics(score cf.Score, topK int) map[string]int {
	return map[string]int{
		fmt.Sprintf("precision_at_%d", topK): roundPercent(score.Precision),
		fmt.Sprintf("recall_at_%d", topK):    roundPercent(score.Recall),
		"auc_score":                          roundPercent(score.AUC),
	}
}

func roundPercent(value float32) int {
	return int(math.Round(float64(value) * 100))
}
