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
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTransaction() Transaction {
	return Transaction{
		InvoiceNo:   "536365",
		StockCode:   "85123A",
		Description: "WHITE HANGING HEART T-LIGHT HOLDER",
		Quantity:    6,
		InvoiceDate: "12/1/2011 8:26",
		UnitPrice:   2.55,
		CustomerID:  17850,
		Country:     "United Kingdom",
	}
}

func TestClean(t *testing.T) {
	negativePrice := validTransaction()
	negativePrice.UnitPrice = -1.5
	cancellation := validTransaction()
	cancellation.InvoiceNo = "C536379"
	adjustment := validTransaction()
	adjustment.InvoiceNo = "A563185"
	zeroQuantity := validTransaction()
	zeroQuantity.Quantity = 0
	negativeQuantity := validTransaction()
	negativeQuantity.Quantity = -2
	noCustomer := validTransaction()
	noCustomer.CustomerID = math.NaN()
	abroad := validTransaction()
	abroad.Country = "France"
	wrongYear := validTransaction()
	wrongYear.InvoiceDate = "12/1/2010 8:26"
	noDescription := validTransaction()
	noDescription.Description = ""
	noDescription.StockCode = "22423"

	cleaned, err := Clean([]Transaction{
		validTransaction(), negativePrice, cancellation, adjustment, zeroQuantity,
		negativeQuantity, noCustomer, abroad, wrongYear, noDescription,
	}, DefaultCleanRules())
	assert.NoError(t, err)
	assert.Len(t, cleaned, 2)
	for _, row := range cleaned {
		assert.GreaterOrEqual(t, row.UnitPrice, 0.0)
		assert.Positive(t, row.Quantity)
		assert.False(t, strings.HasPrefix(row.InvoiceNo, "C"))
		assert.False(t, strings.HasPrefix(row.InvoiceNo, "A"))
		assert.Equal(t, "United Kingdom", row.Country)
		assert.Equal(t, 2011, row.Year)
		assert.False(t, row.MissingCustomerID())
		assert.NotEmpty(t, row.Description)
	}
	// missing description replaced with the placeholder
	assert.Equal(t, "Unknown", cleaned[1].Description)
	// derived columns
	assert.InDelta(t, 15.3, cleaned[0].Revenue, 1e-9)
	assert.Equal(t, 2011, cleaned[0].Timestamp.Year())
}

func TestCleanUnparsableDate(t *testing.T) {
	badDate := validTransaction()
	badDate.InvoiceDate = "2011-12-01T08:26:00Z"
	_, err := Clean([]Transaction{validTransaction(), badDate}, DefaultCleanRules())
	assert.Error(t, err)
}

func TestCleanCaseSensitivePrefix(t *testing.T) {
	lowercase := validTransaction()
	lowercase.InvoiceNo = "c536379"
	cleaned, err := Clean([]Transaction{lowercase}, DefaultCleanRules())
	assert.NoError(t, err)
	assert.Len(t, cleaned, 1)
}

func TestCleanConfigurableRules(t *testing.T) {
	rules := DefaultCleanRules()
	rules.Country = "France"
	rules.Year = 2010
	abroad := validTransaction()
	abroad.Country = "France"
	abroad.InvoiceDate = "12/1/2010 8:26"
	cleaned, err := Clean([]Transaction{validTransaction(), abroad}, rules)
	assert.NoError(t, err)
	assert.Len(t, cleaned, 1)
	assert.Equal(t, "France", cleaned[0].Country)
}
