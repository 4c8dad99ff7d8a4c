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

package dataset

import "strconv"

// CreateUserDict maps customer ids to their row index in the interaction
// table. Keys are the decimal form of the rounded customer id, indices are
// sequential integers starting at 0 in row order.
func CreateUserDict(table *Table) map[string]int {
	userDict := make(map[string]int, table.CountUsers())
	for index, userID := range table.UserIDs() {
		userDict[strconv.Itoa(userID)] = index
	}
	return userDict
}

// CreateItemDict maps stock codes to human-readable descriptions, iterating
// the ungrouped cleaned transactions. The last seen description wins when
// descriptions vary across rows.
func CreateItemDict(cleaned []Transaction) map[string]string {
	itemDict := make(map[string]string, len(cleaned))
	for _, t := range cleaned {
		itemDict[t.StockCode] = t.Description
	}
	return itemDict
}
