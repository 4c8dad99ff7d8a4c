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

// Package recommend implements the read-only recommendation queries on top of
// a trained factorization model and the interaction table.
package recommend

import (
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/migumax/dockerized-recommender/base"
	"github.com/migumax/dockerized-recommender/dataset"
	"github.com/migumax/dockerized-recommender/model/cf"
)

// UserRecommendation is the response of a user-to-items query.
type UserRecommendation struct {
	UserID string   `json:"user_id"`
	RecIDs []string `json:"recs_ids"`
	Recs   []string `json:"recs"`
	Known  []string `json:"known,omitempty"`
}

// ItemsToUser recommends the top-N items for a user. Items the user already
// purchased (table entries above threshold) are removed from the ranked
// candidates. When showKnown is set, their names are reported alongside the
// recommendations, ordered by descending raw item identifier.
func ItemsToUser(m cf.MatrixFactorization, table *dataset.Table, userDict map[string]int,
	itemDict map[string]string, userID int, threshold float64, nrecItems int, showKnown bool) (*UserRecommendation, error) {
	userKey := strconv.Itoa(userID)
	userIndex, ok := userDict[userKey]
	if !ok {
		return nil, errors.NotFoundf("user %v", userID)
	}
	// rank every item for this user
	rankedItems := rankItems(m, table, userIndex)
	// known items are ordered by raw column key, not relevance
	knownItems := make([]string, 0)
	for itemIndex, itemID := range table.ItemIDs() {
		if float64(table.Value(userIndex, itemIndex)) > threshold {
			knownItems = append(knownItems, itemID)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(knownItems)))
	// remove known items from the ranked candidates
	knownSet := mapset.NewSet(knownItems...)
	recIDs := make([]string, 0, nrecItems)
	for _, itemID := range rankedItems {
		if len(recIDs) >= nrecItems {
			break
		}
		if !knownSet.Contains(itemID) {
			recIDs = append(recIDs, itemID)
		}
	}
	recommendation := &UserRecommendation{UserID: userKey, RecIDs: recIDs}
	var err error
	if recommendation.Recs, err = itemNames(itemDict, recIDs); err != nil {
		return nil, errors.Trace(err)
	}
	if showKnown {
		if recommendation.Known, err = itemNames(itemDict, knownItems); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return recommendation, nil
}

// UsersToItem returns the top-N users most interested in an item.
func UsersToItem(m cf.MatrixFactorization, table *dataset.Table, itemID string, lenUsers int) ([]int, error) {
	itemIndex, ok := table.ItemIndex(itemID)
	if !ok {
		return nil, errors.NotFoundf("item %v", itemID)
	}
	// score every user against the item's column
	scores := make([]float32, table.CountUsers())
	for userIndex := range scores {
		scores[userIndex] = m.InternalPredict(int32(userIndex), int32(itemIndex))
	}
	order := argsortDescending(scores)
	lenUsers = base.Min(lenUsers, len(order))
	userList := make([]int, lenUsers)
	for i := 0; i < lenUsers; i++ {
		userList[i] = table.UserIDs()[order[i]]
	}
	return userList, nil
}

// ItemRecommendation is the response of an item-to-items query.
type ItemRecommendation struct {
	ItemID string   `json:"item_id"`
	Item   string   `json:"item"`
	RecIDs []string `json:"recs_ids"`
	Recs   []string `json:"recs"`
}

// ItemsToItem returns the N nearest neighbors of an item by embedding cosine
// similarity. The queried item itself is excluded from the neighbors.
func ItemsToItem(distances *DistanceMatrix, itemDict map[string]string, itemID string, nItems int) (*ItemRecommendation, error) {
	row, ok := distances.Row(itemID)
	if !ok {
		return nil, errors.NotFoundf("item %v", itemID)
	}
	name, ok := itemDict[itemID]
	if !ok {
		return nil, errors.NotFoundf("description of item %v", itemID)
	}
	order := argsortDescending(row)
	recIDs := make([]string, 0, nItems)
	for _, itemIndex := range order {
		if len(recIDs) >= nItems {
			break
		}
		if neighbor := distances.ItemIDs()[itemIndex]; neighbor != itemID {
			recIDs = append(recIDs, neighbor)
		}
	}
	recommendation := &ItemRecommendation{ItemID: itemID, Item: name, RecIDs: recIDs}
	var err error
	if recommendation.Recs, err = itemNames(itemDict, recIDs); err != nil {
		return nil, errors.Trace(err)
	}
	return recommendation, nil
}

// rankItems sorts the column identifiers of the table by descending predicted
// score for the given user row.
func rankItems(m cf.MatrixFactorization, table *dataset.Table, userIndex int) []string {
	scores := make([]float32, table.CountItems())
	for itemIndex := range scores {
		scores[itemIndex] = m.InternalPredict(int32(userIndex), int32(itemIndex))
	}
	order := argsortDescending(scores)
	ranked := make([]string, len(order))
	for i, itemIndex := range order {
		ranked[i] = table.ItemIDs()[itemIndex]
	}
	return ranked
}

// argsortDescending returns indices ordering scores from high to low. The sort
// is stable, so ties keep the underlying row or column order and results are
// reproducible across runs.
func argsortDescending(scores []float32) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order
}

func itemNames(itemDict map[string]string, itemIDs []string) ([]string, error) {
	names := make([]string, len(itemIDs))
	for i, itemID := range itemIDs {
		name, ok := itemDict[itemID]
		if !ok {
			return nil, errors.NotFoundf("description of item %v", itemID)
		}
		names[i] = name
	}
	return names, nil
}
