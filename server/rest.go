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

// Package server exposes the recommender over a REST-ful API.
package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/juju/errors"
	"github.com/migumax/dockerized-recommender/base/log"
	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/recommend"
	"github.com/migumax/dockerized-recommender/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const hintMessage = "Please send a POST-request with args to get recommendations"

// RestServer implements a REST-ful API server. The artifacts of the latest
// training run are published atomically, so queries always see a complete
// bundle and never a half-trained one.
type RestServer struct {
	Config     *config.Config
	HttpHost   string
	HttpPort   int
	WebService *restful.WebService

	trainer    *recommend.Trainer
	store      *storage.Store
	artifacts  atomic.Pointer[recommend.Artifacts]
	trainMutex sync.Mutex
}

// NewRestServer creates a REST-ful API server.
func NewRestServer(cfg *config.Config) *RestServer {
	store := storage.NewStore(cfg.Data)
	return &RestServer{
		Config:     cfg,
		HttpHost:   cfg.Server.HttpHost,
		HttpPort:   cfg.Server.HttpPort,
		WebService: new(restful.WebService),
		trainer:    recommend.NewTrainer(cfg, store),
		store:      store,
	}
}

// LoadArtifacts restores the artifacts of the latest training run from disk.
// A missing model is not fatal, the server starts and waits for /train.
func (s *RestServer) LoadArtifacts() {
	artifacts, err := s.trainer.LoadArtifacts()
	if err != nil {
		log.Logger().Warn("no trained model found, waiting for /train", zap.Error(err))
		return
	}
	s.artifacts.Store(artifacts)
	log.Logger().Info("loaded trained model",
		zap.Int("n_users", artifacts.Table.CountUsers()),
		zap.Int("n_items", artifacts.Table.CountItems()))
}

// StartHttpServer starts the REST-ful API server.
func (s *RestServer) StartHttpServer() {
	// register restful APIs
	s.CreateWebService()
	restful.DefaultContainer.Add(s.WebService)
	// register openapi specification
	specConfig := restfulspec.Config{
		WebServices: restful.RegisteredWebServices(),
		APIPath:     "/apidocs.json",
	}
	restful.DefaultContainer.Add(restfulspec.NewOpenAPIService(specConfig))
	// register prometheus
	http.Handle("/metrics", promhttp.Handler())

	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	log.Logger().Fatal("failed to start http server",
		zap.Error(http.ListenAndServe(fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort), nil)))
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	log.Logger().Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/")
	ws.Filter(LogFilter)

	/* Training and maintenance */

	// Train a model
	ws.Route(ws.GET("/train").To(s.train).
		Doc("Rebuild all artifacts from the raw transaction log and train a fresh model.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"train"}).
		Writes(map[string]int{}))
	// Wipe artifacts
	ws.Route(ws.GET("/wipe").To(s.wipe).
		Doc("Delete the persisted model and auxiliary data.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"train"}))

	/* Recommendation queries */

	// Recommend items to a user
	ws.Route(ws.POST("/items_to_user").To(s.itemsToUser).
		Doc("Recommend items to a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}).
		Reads(ItemsToUserRequest{}).
		Writes(recommend.UserRecommendation{}))
	ws.Route(ws.GET("/items_to_user").To(s.hint).
		Doc("Usage hint.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}))
	// Recommend users to an item
	ws.Route(ws.POST("/users_to_item").To(s.usersToItem).
		Doc("Find the users most interested in an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}).
		Reads(UsersToItemRequest{}).
		Writes(map[string][]int{}))
	ws.Route(ws.GET("/users_to_item").To(s.hint).
		Doc("Usage hint.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}))
	// Recommend items similar to an item
	ws.Route(ws.POST("/items_to_item").To(s.itemsToItem).
		Doc("Find the nearest neighbors of an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}).
		Reads(ItemsToItemRequest{}).
		Writes(recommend.ItemRecommendation{}))
	ws.Route(ws.GET("/items_to_item").To(s.hint).
		Doc("Usage hint.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommend"}))
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Trace string `json:"trace"`
}

// ItemsToUserRequest is the request of an items_to_user query. Numeric and
// boolean fields accept both native JSON values and string-encoded ones.
type ItemsToUserRequest struct {
	UserID    FlexInt  `json:"user_id"`
	NRecItems FlexInt  `json:"nrec_items"`
	ShowKnown FlexBool `json:"show_known"`
}

// UsersToItemRequest is the request of a users_to_item query.
type UsersToItemRequest struct {
	ItemID   FlexString `json:"item_id"`
	LenUsers FlexInt    `json:"len_users"`
}

// ItemsToItemRequest is the request of an items_to_item query.
type ItemsToItemRequest struct {
	ItemID FlexString `json:"item_id"`
	NItems FlexInt    `json:"n_items"`
}

func (s *RestServer) train(_ *restful.Request, response *restful.Response) {
	s.trainMutex.Lock()
	defer s.trainMutex.Unlock()
	start := time.Now()
	result, err := s.trainer.Train()
	if err != nil {
		Error(response, err)
		return
	}
	// publish the new artifacts for queries
	s.artifacts.Store(result.Artifacts)
	TrainSeconds.Observe(time.Since(start).Seconds())
	Ok(response, result.Metrics)
}

// wipe deletes the persisted artifacts. The published in-memory artifacts are
// deliberately left alone, queries keep serving the loaded model until the
// next train or restart.
func (s *RestServer) wipe(_ *restful.Request, response *restful.Response) {
	s.trainMutex.Lock()
	defer s.trainMutex.Unlock()
	if err := s.store.Wipe(); err != nil {
		InternalServerError(response, err)
		return
	}
	Text(response, "Model and auxiliary data were deleted")
}

func (s *RestServer) hint(_ *restful.Request, response *restful.Response) {
	Text(response, hintMessage)
}

func (s *RestServer) itemsToUser(request *restful.Request, response *restful.Response) {
	start := time.Now()
	var query ItemsToUserRequest
	if err := request.ReadEntity(&query); err != nil {
		BadRequest(response, err)
		return
	}
	if query.NRecItems < 0 {
		BadRequest(response, errors.NotValidf("nrec_items %d", query.NRecItems))
		return
	}
	artifacts, err := s.requireArtifacts()
	if err != nil {
		Error(response, err)
		return
	}
	recommendation, err := recommend.ItemsToUser(artifacts.Model, artifacts.Table,
		artifacts.UserDict, artifacts.ItemDict, int(query.UserID),
		s.Config.Recommend.Threshold, int(query.NRecItems), bool(query.ShowKnown))
	if err != nil {
		Error(response, err)
		return
	}
	ItemsToUserSeconds.Observe(time.Since(start).Seconds())
	Ok(response, recommendation)
}

func (s *RestServer) usersToItem(request *restful.Request, response *restful.Response) {
	start := time.Now()
	var query UsersToItemRequest
	if err := request.ReadEntity(&query); err != nil {
		BadRequest(response, err)
		return
	}
	if query.LenUsers < 0 {
		BadRequest(response, errors.NotValidf("len_users %d", query.LenUsers))
		return
	}
	artifacts, err := s.requireArtifacts()
	if err != nil {
		Error(response, err)
		return
	}
	users, err := recommend.UsersToItem(artifacts.Model, artifacts.Table,
		string(query.ItemID), int(query.LenUsers))
	if err != nil {
		Error(response, err)
		return
	}
	UsersToItemSeconds.Observe(time.Since(start).Seconds())
	Ok(response, map[string][]int{string(query.ItemID): users})
}

func (s *RestServer) itemsToItem(request *restful.Request, response *restful.Response) {
	start := time.Now()
	var query ItemsToItemRequest
	if err := request.ReadEntity(&query); err != nil {
		BadRequest(response, err)
		return
	}
	if query.NItems < 0 {
		BadRequest(response, errors.NotValidf("n_items %d", query.NItems))
		return
	}
	artifacts, err := s.requireArtifacts()
	if err != nil {
		Error(response, err)
		return
	}
	recommendation, err := recommend.ItemsToItem(artifacts.Distances, artifacts.ItemDict,
		string(query.ItemID), int(query.NItems))
	if err != nil {
		Error(response, err)
		return
	}
	ItemsToItemSeconds.Observe(time.Since(start).Seconds())
	Ok(response, recommendation)
}

// requireArtifacts returns the published artifacts or fails when no model has
// been trained yet.
func (s *RestServer) requireArtifacts() (*recommend.Artifacts, error) {
	if artifacts := s.artifacts.Load(); artifacts != nil {
		return artifacts, nil
	}
	return nil, errors.NotFoundf("trained model")
}

// Error dispatches an error to the status code of its category.
func Error(response *restful.Response, err error) {
	switch {
	case errors.IsNotFound(err):
		PageNotFound(response, err)
	case errors.IsNotValid(err) || errors.IsBadRequest(err):
		BadRequest(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.Logger().Error("bad request", zap.Error(err))
	writeError(response, http.StatusBadRequest, err)
}

// InternalServerError returns an internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.Logger().Error("internal server error", zap.Error(err))
	writeError(response, http.StatusInternalServerError, err)
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	writeError(response, http.StatusNotFound, err)
}

func writeError(response *restful.Response, status int, err error) {
	body := ErrorResponse{Error: err.Error(), Trace: errors.ErrorStack(err)}
	if err := response.WriteHeaderAndJson(status, body, restful.MIME_JSON); err != nil {
		log.Logger().Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	if err := response.WriteAsJson(content); err != nil {
		log.Logger().Error("failed to write json", zap.Error(err))
	}
}

// Text returns a plain text.
func Text(response *restful.Response, content string) {
	if _, err := response.Write([]byte(content)); err != nil {
		log.Logger().Error("failed to write text", zap.Error(err))
	}
}
