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
	"strings"
	"time"

	"github.com/juju/errors"
)

// Transaction is a single row of the retail transaction log. InvoiceDate holds
// the raw textual date until Clean parses it into Timestamp. A missing customer
// id is represented by NaN.
type Transaction struct {
	InvoiceNo   string
	StockCode   string
	Description string
	Quantity    int
	InvoiceDate string
	UnitPrice   float64
	CustomerID  float64
	Country     string
	// derived by Clean
	Timestamp time.Time
	Year      int
	Revenue   float64
}

// MissingCustomerID reports whether the customer id of the transaction is missing.
func (t *Transaction) MissingCustomerID() bool {
	return math.IsNaN(t.CustomerID)
}

// CleanRules is the set of empirical filters applied to the raw transaction log
// before building the interaction table.
type CleanRules struct {
	DateLayout         string   // layout of the invoice date column
	Country            string   // keep rows of this country only
	Year               int      // keep rows of this year only
	MinUnitPrice       float64  // drop rows with unit price below this value
	InvoicePrefixes    []string // drop rows whose invoice id starts with one of these
	UnknownDescription string   // placeholder for missing descriptions
	CustomerIDSentinel float64  // sentinel assigned to missing customer ids
}

// DefaultCleanRules returns the cleaning rules of the UK retail dataset.
func DefaultCleanRules() CleanRules {
	return CleanRules{
		DateLayout:         "1/2/2006 15:04",
		Country:            "United Kingdom",
		Year:               2011,
		MinUnitPrice:       0,
		InvoicePrefixes:    []string{"C", "A"},
		UnknownDescription: "Unknown",
		CustomerIDSentinel: -9999,
	}
}

// Clean filters and normalizes raw transactions. The rules are applied in a
// fixed order for reproducibility. Rows dropped by filters are silent, but a
// single unparsable invoice date fails the whole run.
func Clean(transactions []Transaction, rules CleanRules) ([]Transaction, error) {
	cleaned := make([]Transaction, 0, len(transactions))
	for i, t := range transactions {
		// 1. parse the invoice date, fail the run on the first unparsable row
		timestamp, err := time.Parse(rules.DateLayout, t.InvoiceDate)
		if err != nil {
			return nil, errors.Annotatef(err, "parse invoice date at row %d", i)
		}
		t.Timestamp = timestamp
		// 2. drop rows with unit price below threshold
		if t.UnitPrice < rules.MinUnitPrice {
			continue
		}
		// 3. drop cancellations and adjustments
		if hasAnyPrefix(t.InvoiceNo, rules.InvoicePrefixes) {
			continue
		}
		// 4. drop rows with non-positive quantity
		if t.Quantity <= 0 {
			continue
		}
		// 5. replace missing descriptions and customer ids
		if t.Description == "" {
			t.Description = rules.UnknownDescription
		}
		if t.MissingCustomerID() {
			t.CustomerID = rules.CustomerIDSentinel
		}
		// 6. derive year and revenue
		t.Year = t.Timestamp.Year()
		t.Revenue = float64(t.Quantity) * t.UnitPrice
		// rows with no customer id are discarded, not retained with a placeholder
		if t.CustomerID == rules.CustomerIDSentinel {
			continue
		}
		// 7. keep the configured country and year only
		if t.Country != rules.Country || t.Year != rules.Year {
			continue
		}
		cleaned = append(cleaned, t)
	}
	return cleaned, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
