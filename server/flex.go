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

package server

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Clients built on dynamically typed languages send numbers and booleans as
// strings as often as native JSON values. The Flex types accept both.

// FlexInt is an integer decoded from a JSON number or a string.
type FlexInt int

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*i = 0
		return nil
	}
	value, err := strconv.Atoi(text)
	if err != nil {
		return errors.NewNotValid(err, "integer expected")
	}
	*i = FlexInt(value)
	return nil
}

// FlexBool is a boolean decoded from a JSON boolean, a number or a string.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return errors.NotValidf("boolean %s", string(data))
	}
	return nil
}

// FlexString is a string decoded from a JSON string or a number. Stock codes
// look numeric, so clients frequently send them unquoted.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return errors.NewNotValid(err, "string expected")
		}
		*s = FlexString(value)
		return nil
	}
	if string(data) == "null" {
		*s = ""
		return nil
	}
	*s = FlexString(data)
	return nil
}
