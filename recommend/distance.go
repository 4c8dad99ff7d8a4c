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
	"github.com/juju/errors"
	"github.com/migumax/dockerized-recommender/base"
	"github.com/migumax/dockerized-recommender/base/floats"
	"github.com/migumax/dockerized-recommender/base/parallel"
	"github.com/migumax/dockerized-recommender/dataset"
	"github.com/migumax/dockerized-recommender/model/cf"
)

// DistanceMatrix holds pairwise cosine similarities between item embeddings,
// indexed by the column identifiers of the interaction table.
type DistanceMatrix struct {
	itemIDs      []string
	similarities [][]float32
	index        map[string]int
}

// ItemDistanceMatrix computes the cosine similarity between every pair of item
// embeddings. Items with a zero embedding have zero similarity to every other
// item, while the diagonal is always one.
func ItemDistanceMatrix(m cf.MatrixFactorization, table *dataset.Table, nJobs int) (*DistanceMatrix, error) {
	if m.CountItems() != table.CountItems() {
		return nil, errors.NotValidf("model with %d items against table with %d items",
			m.CountItems(), table.CountItems())
	}
	n := table.CountItems()
	norms := make([]float32, n)
	for i := 0; i < n; i++ {
		norms[i] = floats.Norm(m.GetItemFactor(int32(i)))
	}
	similarities := base.NewMatrix32(n, n)
	_ = parallel.Parallel(n, nJobs, func(_, i int) error {
		similarities[i][i] = 1
		for j := i + 1; j < n; j++ {
			if norms[i] > 0 && norms[j] > 0 {
				similarity := floats.Dot(m.GetItemFactor(int32(i)), m.GetItemFactor(int32(j))) /
					norms[i] / norms[j]
				similarities[i][j] = similarity
				similarities[j][i] = similarity
			}
		}
		return nil
	})
	index := make(map[string]int, n)
	for i, itemID := range table.ItemIDs() {
		index[itemID] = i
	}
	return &DistanceMatrix{
		itemIDs:      table.ItemIDs(),
		similarities: similarities,
		index:        index,
	}, nil
}

// ItemIDs returns the item identifiers labeling rows and columns.
func (d *DistanceMatrix) ItemIDs() []string {
	return d.itemIDs
}

// Row returns the similarity row of an item.
func (d *DistanceMatrix) Row(itemID string) ([]float32, bool) {
	i, ok := d.index[itemID]
	if !ok {
		return nil, false
	}
	return d.similarities[i], true
}
