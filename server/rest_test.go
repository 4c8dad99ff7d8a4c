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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emicklei/go-restful/v3"
	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/recommend"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/suite"
)

type ServerTestSuite struct {
	suite.Suite
	server  *RestServer
	handler *restful.Container
}

func (suite *ServerTestSuite) SetupTest() {
	dir := suite.T().TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Data.DataPath = filepath.Join(dir, "data.csv")
	cfg.Data.CleanDataPath = filepath.Join(dir, "data_clean.csv")
	cfg.Data.AuxiliaryPath = filepath.Join(dir, "auxiliary")
	cfg.Data.ModelPath = filepath.Join(dir, "model", "recommender.model")
	cfg.Model.NFactors = 8
	cfg.Model.NEpochs = 5
	cfg.Model.FitJobs = 1
	cfg.Model.TopK = 2
	cfg.Model.Verbose = 10
	cfg.Model.RandomState = 42
	suite.writeRawData(cfg.Data.DataPath)

	suite.server = NewRestServer(cfg)
	suite.server.CreateWebService()
	suite.handler = restful.NewContainer()
	suite.handler.Add(suite.server.WebService)
}

func (suite *ServerTestSuite) writeRawData(path string) {
	var b strings.Builder
	b.WriteString("InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n")
	row := func(invoice, stock, desc string, quantity int, customer string) {
		b.WriteString(fmt.Sprintf("%s,%s,%s,%d,12/1/2011 8:26,2.55,%s,United Kingdom\n",
			invoice, stock, desc, quantity, customer))
	}
	row("536365", "10001", "MUG", 6, "17850")
	row("536365", "10002", "BOWL", 2, "17850")
	row("536366", "10002", "BOWL", 1, "17851")
	row("536366", "10003", "PLATE", 4, "17851")
	row("536367", "10001", "MUG", 3, "17852")
	row("536367", "10003", "PLATE", 1, "17852")
	suite.NoError(os.WriteFile(path, []byte(b.String()), 0644))
}

func (suite *ServerTestSuite) train() {
	result := apitest.New().
		Handler(suite.handler).
		Get("/train").
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	metrics := make(map[string]int)
	suite.decode(result, &metrics)
	suite.Contains(metrics, "precision_at_2")
	suite.Contains(metrics, "recall_at_2")
	suite.Contains(metrics, "auc_score")
}

func (suite *ServerTestSuite) decode(result apitest.Result, v interface{}) {
	defer result.Response.Body.Close()
	suite.NoError(json.NewDecoder(result.Response.Body).Decode(v))
}

func (suite *ServerTestSuite) TestItemsToUser() {
	suite.train()
	result := apitest.New().
		Handler(suite.handler).
		Post("/items_to_user").
		JSON(`{"user_id": "17850", "nrec_items": "2", "show_known": "True"}`).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var recommendation recommend.UserRecommendation
	suite.decode(result, &recommendation)
	suite.Equal("17850", recommendation.UserID)
	// user 17850 purchased 10001 and 10002, only 10003 is left to recommend
	suite.Equal([]string{"10003"}, recommendation.RecIDs)
	suite.Equal([]string{"PLATE"}, recommendation.Recs)
	suite.Equal([]string{"BOWL", "MUG"}, recommendation.Known)
}

func (suite *ServerTestSuite) TestItemsToUserNativeFields() {
	suite.train()
	result := apitest.New().
		Handler(suite.handler).
		Post("/items_to_user").
		JSON(`{"user_id": 17850, "nrec_items": 1, "show_known": false}`).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var recommendation recommend.UserRecommendation
	suite.decode(result, &recommendation)
	suite.Equal([]string{"10003"}, recommendation.RecIDs)
	suite.Empty(recommendation.Known)
}

func (suite *ServerTestSuite) TestItemsToUserErrors() {
	suite.train()
	// unknown user
	apitest.New().
		Handler(suite.handler).
		Post("/items_to_user").
		JSON(`{"user_id": 404, "nrec_items": 1}`).
		Expect(suite.T()).
		Status(http.StatusNotFound).
		End()
	// negative count
	apitest.New().
		Handler(suite.handler).
		Post("/items_to_user").
		JSON(`{"user_id": 17850, "nrec_items": -1}`).
		Expect(suite.T()).
		Status(http.StatusBadRequest).
		End()
	// malformed boolean
	apitest.New().
		Handler(suite.handler).
		Post("/items_to_user").
		JSON(`{"user_id": 17850, "nrec_items": 1, "show_known": "yep"}`).
		Expect(suite.T()).
		Status(http.StatusBadRequest).
		End()
}

func (suite *ServerTestSuite) TestUsersToItem() {
	suite.train()
	result := apitest.New().
		Handler(suite.handler).
		Post("/users_to_item").
		JSON(`{"item_id": 10001, "len_users": 5}`).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	users := make(map[string][]int)
	suite.decode(result, &users)
	// asking for more users than exist returns everyone
	suite.ElementsMatch([]int{17850, 17851, 17852}, users["10001"])

	apitest.New().
		Handler(suite.handler).
		Post("/users_to_item").
		JSON(`{"item_id": "99999", "len_users": 1}`).
		Expect(suite.T()).
		Status(http.StatusNotFound).
		End()
}

func (suite *ServerTestSuite) TestItemsToItem() {
	suite.train()
	result := apitest.New().
		Handler(suite.handler).
		Post("/items_to_item").
		JSON(`{"item_id": "10001", "n_items": 1}`).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	var recommendation recommend.ItemRecommendation
	suite.decode(result, &recommendation)
	suite.Equal("10001", recommendation.ItemID)
	suite.Equal("MUG", recommendation.Item)
	// the queried item never recommends itself
	suite.Len(recommendation.RecIDs, 1)
	suite.NotContains(recommendation.RecIDs, "10001")
}

func (suite *ServerTestSuite) TestQueryBeforeTraining() {
	for _, route := range []string{"/items_to_user", "/users_to_item", "/items_to_item"} {
		apitest.New().
			Handler(suite.handler).
			Post(route).
			JSON(`{}`).
			Expect(suite.T()).
			Status(http.StatusNotFound).
			End()
	}
}

func (suite *ServerTestSuite) TestHints() {
	for _, route := range []string{"/items_to_user", "/users_to_item", "/items_to_item"} {
		apitest.New().
			Handler(suite.handler).
			Get(route).
			Expect(suite.T()).
			Status(http.StatusOK).
			Body(hintMessage).
			End()
	}
}

func (suite *ServerTestSuite) TestWipe() {
	suite.train()
	apitest.New().
		Handler(suite.handler).
		Get("/wipe").
		Expect(suite.T()).
		Status(http.StatusOK).
		Body("Model and auxiliary data were deleted").
		End()
	_, err := os.Stat(suite.server.Config.Data.ModelPath)
	suite.True(os.IsNotExist(err))
	// the published artifacts keep serving until the next train or restart
	apitest.New().
		Handler(suite.handler).
		Post("/items_to_user").
		JSON(`{"user_id": 17850, "nrec_items": 1}`).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
	// a restarted server finds nothing to load
	restarted := NewRestServer(suite.server.Config)
	restarted.LoadArtifacts()
	suite.Nil(restarted.artifacts.Load())
}

func (suite *ServerTestSuite) TestLoadArtifacts() {
	suite.train()
	// a fresh server picks up the persisted artifacts
	restarted := NewRestServer(suite.server.Config)
	restarted.LoadArtifacts()
	restarted.CreateWebService()
	handler := restful.NewContainer()
	handler.Add(restarted.WebService)
	apitest.New().
		Handler(handler).
		Post("/items_to_user").
		JSON(`{"user_id": 17850, "nrec_items": 1}`).
		Expect(suite.T()).
		Status(http.StatusOK).
		End()
}

func (suite *ServerTestSuite) TestLoadArtifactsMissing() {
	restarted := NewRestServer(suite.server.Config)
	restarted.LoadArtifacts()
	suite.Nil(restarted.artifacts.Load())
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
