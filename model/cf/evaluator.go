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
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/migumax/dockerized-recommender/base"
	"github.com/migumax/dockerized-recommender/base/floats"
	"github.com/migumax/dockerized-recommender/base/parallel"
	"github.com/migumax/dockerized-recommender/dataset"
)

/* Evaluate Item Ranking */

// Metric is used by evaluators in personalized ranking tasks.
type Metric func(targetSet mapset.Set[int32], rankList []int32) float32

// Evaluate evaluates a model in top-n tasks. Every item is a candidate for
// every user, matching the batch evaluation of the training pipeline.
func Evaluate(estimator MatrixFactorization, testSet *dataset.Table, topK, nJobs int, scorers ...Metric) []float32 {
	partSum := make([][]float32, nJobs)
	partCount := make([]float32, nJobs)
	for i := 0; i < nJobs; i++ {
		partSum[i] = make([]float32, len(scorers))
	}
	_ = parallel.Parallel(testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		// Find top-n items in the test set
		targetSet := mapset.NewSet(testSet.UserFeedback()[userIndex]...)
		if targetSet.Cardinality() > 0 {
			// Find top-n items in predictions
			rankList, _ := Rank(estimator, int32(userIndex), testSet.CountItems(), topK)
			partCount[workerId]++
			for i, metric := range scorers {
				partSum[workerId][i] += metric(targetSet, rankList)
			}
		}
		return nil
	})
	sum := make([]float32, len(scorers))
	for i := 0; i < nJobs; i++ {
		for j := range partSum[i] {
			sum[j] += partSum[i][j]
		}
	}
	count := floats.Sum(partCount)
	if count > 0 {
		floats.MulConst(sum, 1/count)
	}
	return sum
}

// Precision is the fraction of relevant items among the recommended items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{retrieved documents}|}
func Precision(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := float32(0)
	for _, itemIndex := range rankList {
		if targetSet.Contains(itemIndex) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the fraction of relevant items that have been recommended over the
// total amount of relevant items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{relevant documents}|}
func Recall(targetSet mapset.Set[int32], rankList []int32) float32 {
	hit := 0
	for _, itemIndex := range rankList {
		if targetSet.Contains(itemIndex) {
			hit++
		}
	}
	return float32(hit) / float32(targetSet.Cardinality())
}

// EvaluateAUC evaluates a model by AUC over all (positive, negative) item
// pairs of each user, averaged across users with feedback.
func EvaluateAUC(estimator MatrixFactorization, testSet *dataset.Table, nJobs int) float32 {
	partSum := make([]float32, nJobs)
	partCount := make([]float32, nJobs)
	_ = parallel.Parallel(testSet.CountUsers(), nJobs, func(workerId, userIndex int) error {
		positiveSet := mapset.NewSet(testSet.UserFeedback()[userIndex]...)
		positiveCount := positiveSet.Cardinality()
		negativeCount := testSet.CountItems() - positiveCount
		if positiveCount == 0 || negativeCount == 0 {
			return nil
		}
		// count correctly ordered (positive, negative) pairs
		correctPairs := float32(0)
		for _, posIndex := range testSet.UserFeedback()[userIndex] {
			positiveScore := estimator.InternalPredict(int32(userIndex), posIndex)
			for itemIndex := int32(0); itemIndex < int32(testSet.CountItems()); itemIndex++ {
				if !positiveSet.Contains(itemIndex) &&
					positiveScore > estimator.InternalPredict(int32(userIndex), itemIndex) {
					correctPairs++
				}
			}
		}
		partSum[workerId] += correctPairs / float32(positiveCount*negativeCount)
		partCount[workerId]++
		return nil
	})
	count := floats.Sum(partCount)
	if count == 0 {
		return 0
	}
	return floats.Sum(partSum) / count
}

// Rank gets the top-n list of candidate items for a user.
func Rank(model MatrixFactorization, userIndex int32, nItems, topN int) ([]int32, []float32) {
	itemsHeap := base.NewTopKFilter(topN)
	for itemIndex := int32(0); itemIndex < int32(nItems); itemIndex++ {
		itemsHeap.Push(itemIndex, model.InternalPredict(userIndex, itemIndex))
	}
	return itemsHeap.PopAll()
}
