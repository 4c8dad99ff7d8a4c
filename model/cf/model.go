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

package cf

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/migumax/dockerized-recommender/base"
	"github.com/migumax/dockerized-recommender/base/encoding"
	"github.com/migumax/dockerized-recommender/base/floats"
	"github.com/migumax/dockerized-recommender/base/log"
	"github.com/migumax/dockerized-recommender/base/parallel"
	"github.com/migumax/dockerized-recommender/dataset"
	"github.com/migumax/dockerized-recommender/model"
	"go.uber.org/zap"
)

// Loss functions supported by the factorization model.
const (
	LossWARP = "warp"
	LossBPR  = "bpr"
)

// maxSampleTrials bounds negative sampling per update.
const maxSampleTrials = 10

type Score struct {
	Precision float32
	Recall    float32
	AUC       float32
}

type FitConfig struct {
	Jobs    int
	Verbose int
	TopK    int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
		TopK:    10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetTopK(topK int) *FitConfig {
	config.TopK = topK
	return config
}

// MatrixFactorization is a latent factor model over the binary interaction
// table. User and item indices are the table's row and column indices.
type MatrixFactorization interface {
	model.Model
	// Fit the model with a train set.
	Fit(trainSet *dataset.Table, config *FitConfig) (Score, error)
	// InternalPredict predicts the rating given by a user index to an item index.
	InternalPredict(userIndex, itemIndex int32) float32
	// CountUsers returns the number of user embeddings.
	CountUsers() int
	// CountItems returns the number of item embeddings.
	CountItems() int
	// GetUserFactor returns the latent factor of a user.
	GetUserFactor(userIndex int32) []float32
	// GetItemFactor returns the latent factor of an item.
	GetItemFactor(itemIndex int32) []float32
	// IsUserPredictable returns false if the user has no feedback and its embedding vector was never trained.
	IsUserPredictable(userIndex int32) bool
	// IsItemPredictable returns false if the item has no feedback and its embedding vector was never trained.
	IsItemPredictable(itemIndex int32) bool
	// Invalid reports whether the model holds no trained weights.
	Invalid() bool
	// Marshal model into byte stream.
	Marshal(w io.Writer) error
	// Unmarshal model from byte stream.
	Unmarshal(r io.Reader) error
}

// MF is a pairwise-ranking matrix factorization model for implicit feedback.
// The preference of user u for item i is estimated by the dot product
// p_u^T q_i. Two ranking losses are supported:
//
//   - warp: weighted approximate-rank pairwise loss. Negative items are
//     sampled until one violates the margin, and the update is weighted by
//     log((I-1)/trials) to approximate the rank of the positive item.
//   - bpr: Bayesian personalized ranking, p(i >_u j) = sigma(p_u^T (q_i - q_j)).
//
// Hyper-parameters:
//
//	Loss        - The loss function. Default is "warp".
//	Reg         - The regularization parameter. Default is 0.01.
//	Lr          - The learning rate of SGD. Default is 0.05.
//	NFactors    - The number of latent factors. Default is 140.
//	NEpochs     - The number of iterations of the SGD procedure. Default is 10.
//	InitMean    - The mean of initial random latent factors. Default is 0.
//	InitStdDev  - The standard deviation of initial random latent factors. Default is 0.001.
type MF struct {
	model.BaseModel
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	// Model parameters
	UserFactor [][]float32 // p_u
	ItemFactor [][]float32 // q_i
	// Hyper parameters
	loss       string
	nFactors   int
	nEpochs    int
	lr         float32
	reg        float32
	initMean   float32
	initStdDev float32
}

// NewMF creates a matrix factorization model.
func NewMF(params model.Params) *MF {
	mf := new(MF)
	mf.SetParams(params)
	return mf
}

// SetParams sets hyper-parameters of the model.
func (mf *MF) SetParams(params model.Params) {
	mf.BaseModel.SetParams(params)
	mf.loss = mf.Params.GetString(model.Loss, LossWARP)
	mf.nFactors = mf.Params.GetInt(model.NFactors, 140)
	mf.nEpochs = mf.Params.GetInt(model.NEpochs, 10)
	mf.lr = mf.Params.GetFloat32(model.Lr, 0.05)
	mf.reg = mf.Params.GetFloat32(model.Reg, 0.01)
	mf.initMean = mf.Params.GetFloat32(model.InitMean, 0)
	mf.initStdDev = mf.Params.GetFloat32(model.InitStdDev, 0.001)
}

func (mf *MF) CountUsers() int {
	return len(mf.UserFactor)
}

func (mf *MF) CountItems() int {
	return len(mf.ItemFactor)
}

// GetUserFactor returns the latent factor of a user.
func (mf *MF) GetUserFactor(userIndex int32) []float32 {
	return mf.UserFactor[userIndex]
}

// GetItemFactor returns the latent factor of an item.
func (mf *MF) GetItemFactor(itemIndex int32) []float32 {
	return mf.ItemFactor[itemIndex]
}

// IsUserPredictable returns false if the user has no feedback and its embedding vector was never trained.
func (mf *MF) IsUserPredictable(userIndex int32) bool {
	if userIndex < 0 || int(userIndex) >= mf.CountUsers() {
		return false
	}
	return mf.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if the item has no feedback and its embedding vector was never trained.
func (mf *MF) IsItemPredictable(itemIndex int32) bool {
	if itemIndex < 0 || int(itemIndex) >= mf.CountItems() {
		return false
	}
	return mf.ItemPredictable.Test(uint(itemIndex))
}

// InternalPredict predicts the rating given by a user index to an item index.
func (mf *MF) InternalPredict(userIndex, itemIndex int32) float32 {
	ret := float32(0.0)
	if userIndex >= 0 && itemIndex >= 0 &&
		int(userIndex) < mf.CountUsers() && int(itemIndex) < mf.CountItems() {
		ret = floats.Dot(mf.UserFactor[userIndex], mf.ItemFactor[itemIndex])
	} else {
		log.Logger().Warn("unknown user or item",
			zap.Int32("user_index", userIndex), zap.Int32("item_index", itemIndex))
	}
	return ret
}

func (mf *MF) Init(trainSet *dataset.Table) {
	// Initialize parameters
	mf.UserFactor = mf.GetRandomGenerator().NormalMatrix(trainSet.CountUsers(), mf.nFactors, mf.initMean, mf.initStdDev)
	mf.ItemFactor = mf.GetRandomGenerator().NormalMatrix(trainSet.CountItems(), mf.nFactors, mf.initMean, mf.initStdDev)
	// set trained flags
	mf.UserPredictable = bitset.New(uint(trainSet.CountUsers()))
	for userIndex := 0; userIndex < trainSet.CountUsers(); userIndex++ {
		if len(trainSet.UserFeedback()[userIndex]) > 0 {
			mf.UserPredictable.Set(uint(userIndex))
		}
	}
	mf.ItemPredictable = bitset.New(uint(trainSet.CountItems()))
	for itemIndex := 0; itemIndex < trainSet.CountItems(); itemIndex++ {
		if len(trainSet.ItemFeedback()[itemIndex]) > 0 {
			mf.ItemPredictable.Set(uint(itemIndex))
		}
	}
}

// Fit the model. Its task complexity is O(mf.nEpochs).
func (mf *MF) Fit(trainSet *dataset.Table, config *FitConfig) (Score, error) {
	if trainSet.CountUsers() == 0 || trainSet.CountItems() == 0 || trainSet.CountFeedback() == 0 {
		return Score{}, errors.Errorf("degenerate interaction table: %d users, %d items, %d interactions",
			trainSet.CountUsers(), trainSet.CountItems(), trainSet.CountFeedback())
	}
	if mf.loss != LossWARP && mf.loss != LossBPR {
		return Score{}, errors.NotValidf("loss function %q", mf.loss)
	}
	log.Logger().Info("fit mf",
		zap.String("loss", mf.loss),
		zap.Int("train_set_size", trainSet.CountFeedback()),
		zap.Any("params", mf.GetParams()),
		zap.Any("config", config))
	mf.Init(trainSet)
	// Create buffers
	temp := base.NewMatrix32(config.Jobs, mf.nFactors)
	userFactor := base.NewMatrix32(config.Jobs, mf.nFactors)
	positiveItemFactor := base.NewMatrix32(config.Jobs, mf.nFactors)
	negativeItemFactor := base.NewMatrix32(config.Jobs, mf.nFactors)
	rng := make([]base.RandomGenerator, config.Jobs)
	for i := 0; i < config.Jobs; i++ {
		rng[i] = base.NewRandomGenerator(mf.GetRandomGenerator().Int63())
	}
	// Convert array to hashmap
	userFeedback := make([]mapset.Set[int32], trainSet.CountUsers())
	for u := range userFeedback {
		userFeedback[u] = mapset.NewSet[int32]()
		for _, i := range trainSet.UserFeedback()[u] {
			userFeedback[u].Add(i)
		}
	}
	// Training
	var scores []float32
	cost := make([]float32, config.Jobs)
	for epoch := 1; epoch <= mf.nEpochs; epoch++ {
		fitStart := time.Now()
		floats.Zero(cost)
		_ = parallel.Parallel(trainSet.CountFeedback(), config.Jobs, func(workerId, _ int) error {
			// Select a user
			var userIndex int32
			var ratingCount int
			for {
				userIndex = rng[workerId].Int31n(int32(trainSet.CountUsers()))
				ratingCount = len(trainSet.UserFeedback()[userIndex])
				if ratingCount > 0 {
					break
				}
			}
			posIndex := trainSet.UserFeedback()[userIndex][rng[workerId].Intn(ratingCount)]
			// Select a negative sample and compute the update weight
			var negIndex int32
			var grad float32
			switch mf.loss {
			case LossBPR:
				negIndex = -1
				for trials := 0; trials < maxSampleTrials; trials++ {
					candidate := rng[workerId].Int31n(int32(trainSet.CountItems()))
					if !userFeedback[userIndex].Contains(candidate) {
						negIndex = candidate
						break
					}
				}
				if negIndex < 0 {
					// the user interacted with every sampled item, skip
					return nil
				}
				diff := mf.InternalPredict(userIndex, posIndex) - mf.InternalPredict(userIndex, negIndex)
				cost[workerId] += math32.Log1p(math32.Exp(-diff))
				grad = math32.Exp(-diff) / (1.0 + math32.Exp(-diff))
			case LossWARP:
				// sample until the margin is violated, the number of trials
				// approximates the rank of the positive item
				positiveScore := mf.InternalPredict(userIndex, posIndex)
				negIndex = -1
				trials := 0
				for trials < maxSampleTrials {
					trials++
					candidate := rng[workerId].Int31n(int32(trainSet.CountItems()))
					if userFeedback[userIndex].Contains(candidate) {
						continue
					}
					if mf.InternalPredict(userIndex, candidate) > positiveScore-1 {
						negIndex = candidate
						break
					}
				}
				if negIndex < 0 {
					// no violating negative found, skip this sample
					return nil
				}
				margin := 1 - positiveScore + mf.InternalPredict(userIndex, negIndex)
				cost[workerId] += margin
				grad = math32.Log(float32(trainSet.CountItems()-1) / float32(trials))
				if grad < 0 {
					grad = 0
				}
			}
			// Pairwise update
			copy(userFactor[workerId], mf.UserFactor[userIndex])
			copy(positiveItemFactor[workerId], mf.ItemFactor[posIndex])
			copy(negativeItemFactor[workerId], mf.ItemFactor[negIndex])
			// Update positive item latent factor: +w_u
			floats.MulConstTo(userFactor[workerId], grad, temp[workerId])
			floats.MulConstAdd(positiveItemFactor[workerId], -mf.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], mf.lr, mf.ItemFactor[posIndex])
			// Update negative item latent factor: -w_u
			floats.MulConstTo(userFactor[workerId], -grad, temp[workerId])
			floats.MulConstAdd(negativeItemFactor[workerId], -mf.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], mf.lr, mf.ItemFactor[negIndex])
			// Update user latent factor: h_i-h_j
			floats.SubTo(positiveItemFactor[workerId], negativeItemFactor[workerId], temp[workerId])
			floats.MulConst(temp[workerId], grad)
			floats.MulConstAdd(userFactor[workerId], -mf.reg, temp[workerId])
			floats.MulConstAdd(temp[workerId], mf.lr, mf.UserFactor[userIndex])
			return nil
		})
		fitTime := time.Since(fitStart)
		// Cross validation
		if epoch%config.Verbose == 0 || epoch == mf.nEpochs {
			evalStart := time.Now()
			scores = Evaluate(mf, trainSet, config.TopK, config.Jobs, Precision, Recall)
			evalTime := time.Since(evalStart)
			log.Logger().Info(fmt.Sprintf("fit mf %v/%v", epoch, mf.nEpochs),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", evalTime.String()),
				zap.Float32("cost", floats.Sum(cost)),
				zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[0]),
				zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[1]))
		}
	}
	if scores == nil {
		scores = Evaluate(mf, trainSet, config.TopK, config.Jobs, Precision, Recall)
	}
	auc := EvaluateAUC(mf, trainSet, config.Jobs)
	log.Logger().Info("fit mf complete",
		zap.Float32(fmt.Sprintf("Precision@%v", config.TopK), scores[0]),
		zap.Float32(fmt.Sprintf("Recall@%v", config.TopK), scores[1]),
		zap.Float32("AUC", auc))
	return Score{
		Precision: scores[0],
		Recall:    scores[1],
		AUC:       auc,
	}, nil
}

func (mf *MF) Clear() {
	mf.UserFactor = nil
	mf.ItemFactor = nil
	mf.UserPredictable = nil
	mf.ItemPredictable = nil
}

func (mf *MF) Invalid() bool {
	return mf == nil || mf.UserFactor == nil || mf.ItemFactor == nil
}

// Marshal model into byte stream.
func (mf *MF) Marshal(w io.Writer) error {
	// write params
	if err := encoding.WriteGob(w, mf.Params); err != nil {
		return errors.Trace(err)
	}
	// write dimensions
	if err := binary.Write(w, binary.LittleEndian, int64(mf.CountUsers())); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Write(w, binary.LittleEndian, int64(mf.CountItems())); err != nil {
		return errors.Trace(err)
	}
	// write latent factors
	if err := encoding.WriteMatrix(w, mf.UserFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteMatrix(w, mf.ItemFactor); err != nil {
		return errors.Trace(err)
	}
	// write trained flags
	for _, flags := range []*bitset.BitSet{mf.UserPredictable, mf.ItemPredictable} {
		data, err := flags.MarshalBinary()
		if err != nil {
			return errors.Trace(err)
		}
		if err = encoding.WriteBytes(w, data); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (mf *MF) Unmarshal(r io.Reader) error {
	// read params
	if err := encoding.ReadGob(r, &mf.Params); err != nil {
		return errors.Trace(err)
	}
	mf.SetParams(mf.Params)
	// read dimensions
	var userCount, itemCount int64
	if err := binary.Read(r, binary.LittleEndian, &userCount); err != nil {
		return errors.Trace(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &itemCount); err != nil {
		return errors.Trace(err)
	}
	// read latent factors
	mf.UserFactor = base.NewMatrix32(int(userCount), mf.nFactors)
	mf.ItemFactor = base.NewMatrix32(int(itemCount), mf.nFactors)
	if err := encoding.ReadMatrix(r, mf.UserFactor); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.ReadMatrix(r, mf.ItemFactor); err != nil {
		return errors.Trace(err)
	}
	// read trained flags
	mf.UserPredictable = bitset.New(uint(userCount))
	mf.ItemPredictable = bitset.New(uint(itemCount))
	for _, flags := range []*bitset.BitSet{mf.UserPredictable, mf.ItemPredictable} {
		data, err := encoding.ReadBytes(r)
		if err != nil {
			return errors.Trace(err)
		}
		if err = flags.UnmarshalBinary(data); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func GetModelName(m model.Model) string {
	switch m.(type) {
	case *MF:
		return "mf"
	default:
		return fmt.Sprintf("%T", m)
	}
}

// MarshalModel writes a name-tagged model to a byte stream.
func MarshalModel(w io.Writer, m MatrixFactorization) error {
	if err := encoding.WriteString(w, GetModelName(m)); err != nil {
		return errors.Trace(err)
	}
	if err := m.Marshal(w); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// UnmarshalModel reads a name-tagged model from a byte stream.
func UnmarshalModel(r io.Reader) (MatrixFactorization, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch name {
	case "mf":
		var mf MF
		if err := mf.Unmarshal(r); err != nil {
			return nil, errors.Trace(err)
		}
		return &mf, nil
	}
	return nil, errors.NotValidf("model %v", name)
}
