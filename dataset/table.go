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

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

// Table is the binary user-item interaction table. Rows are customer ids in
// ascending order, columns are stock codes in ascending lexicographic order.
// The dense cells and the per-user/per-item index lists are built from the
// same pivot, so their row and column ordering is always identical.
type Table struct {
	userIDs      []int
	itemIDs      []string
	cells        [][]float32
	userIndex    map[int]int
	itemIndex    map[string]int
	userFeedback [][]int32
	itemFeedback [][]int32
	numFeedback  int
}

// BuildTable pivots cleaned transactions into a user-item interaction table.
// Any positive purchase count becomes 1, columns without any interaction are
// dropped, remaining cells are 0. A user with zero qualifying purchases has
// no row.
func BuildTable(cleaned []Transaction) *Table {
	// group by (stock code, customer id)
	type pair struct {
		item string
		user int
	}
	groups := make(map[pair]int)
	for _, t := range cleaned {
		userID := int(math.Round(t.CustomerID))
		groups[pair{t.StockCode, userID}]++
	}
	// collect row and column labels
	userSet := make(map[int]struct{})
	itemSet := make(map[string]struct{})
	for p := range groups {
		userSet[p.user] = struct{}{}
		itemSet[p.item] = struct{}{}
	}
	userIDs := lo.Keys(userSet)
	sort.Ints(userIDs)
	itemIDs := lo.Keys(itemSet)
	sort.Strings(itemIDs)
	table := newTable(userIDs, itemIDs)
	// binarize: any positive count is a presence
	for p, count := range groups {
		if count > 0 {
			table.cells[table.userIndex[p.user]][table.itemIndex[p.item]] = 1
		}
	}
	table.buildFeedback()
	return table
}

// NewTable creates a table from row labels, column labels and binary cells.
// It is used when reloading the persisted interaction table.
func NewTable(userIDs []int, itemIDs []string, cells [][]float32) *Table {
	table := newTable(userIDs, itemIDs)
	for i := range cells {
		copy(table.cells[i], cells[i])
	}
	table.buildFeedback()
	return table
}

func newTable(userIDs []int, itemIDs []string) *Table {
	table := &Table{
		userIDs:   userIDs,
		itemIDs:   itemIDs,
		cells:     make([][]float32, len(userIDs)),
		userIndex: make(map[int]int, len(userIDs)),
		itemIndex: make(map[string]int, len(itemIDs)),
	}
	for i := range table.cells {
		table.cells[i] = make([]float32, len(itemIDs))
	}
	for i, id := range userIDs {
		table.userIndex[id] = i
	}
	for i, id := range itemIDs {
		table.itemIndex[id] = i
	}
	return table
}

func (table *Table) buildFeedback() {
	table.userFeedback = make([][]int32, len(table.userIDs))
	table.itemFeedback = make([][]int32, len(table.itemIDs))
	table.numFeedback = 0
	for u, row := range table.cells {
		for i, value := range row {
			if value > 0 {
				table.userFeedback[u] = append(table.userFeedback[u], int32(i))
				table.itemFeedback[i] = append(table.itemFeedback[i], int32(u))
				table.numFeedback++
			}
		}
	}
}

// CountUsers returns the number of rows.
func (table *Table) CountUsers() int {
	return len(table.userIDs)
}

// CountItems returns the number of columns.
func (table *Table) CountItems() int {
	return len(table.itemIDs)
}

// CountFeedback returns the number of non-zero cells.
func (table *Table) CountFeedback() int {
	return table.numFeedback
}

// UserIDs returns row labels in their pivot order.
func (table *Table) UserIDs() []int {
	return table.userIDs
}

// ItemIDs returns column labels in their pivot order.
func (table *Table) ItemIDs() []string {
	return table.itemIDs
}

// UserIndex returns the row index of a customer id.
func (table *Table) UserIndex(userID int) (int, bool) {
	index, ok := table.userIndex[userID]
	return index, ok
}

// ItemIndex returns the column index of a stock code.
func (table *Table) ItemIndex(itemID string) (int, bool) {
	index, ok := table.itemIndex[itemID]
	return index, ok
}

// Value returns the cell at the given row and column index.
func (table *Table) Value(userIndex, itemIndex int) float32 {
	return table.cells[userIndex][itemIndex]
}

// UserFeedback returns the column indices of non-zero cells per row.
func (table *Table) UserFeedback() [][]int32 {
	return table.userFeedback
}

// ItemFeedback returns the row indices of non-zero cells per column.
func (table *Table) ItemFeedback() [][]int32 {
	return table.itemFeedback
}
