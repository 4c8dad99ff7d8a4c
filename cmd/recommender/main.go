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

package main

import (
	_ "net/http/pprof"

	"github.com/migumax/dockerized-recommender/base/log"
	"github.com/migumax/dockerized-recommender/config"
	"github.com/migumax/dockerized-recommender/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommenderCommand = &cobra.Command{
	Use:   "recommender",
	Short: "A recommender system for retail transaction logs.",
	Run: func(cmd *cobra.Command, args []string) {
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		// load config
		var conf *config.Config
		if cmd.PersistentFlags().Changed("config") {
			configPath, _ := cmd.PersistentFlags().GetString("config")
			log.Logger().Info("load config", zap.String("config", configPath))
			var err error
			conf, err = config.LoadConfig(configPath)
			if err != nil {
				log.Logger().Fatal("failed to load config", zap.Error(err))
			}
		} else {
			conf = config.GetDefaultConfig()
		}

		// command line flags override the config file
		if cmd.PersistentFlags().Changed("http-host") {
			conf.Server.HttpHost, _ = cmd.PersistentFlags().GetString("http-host")
		}
		if cmd.PersistentFlags().Changed("http-port") {
			conf.Server.HttpPort, _ = cmd.PersistentFlags().GetInt("http-port")
		}

		// start server
		s := server.NewRestServer(conf)
		s.LoadArtifacts()
		s.StartHttpServer()
	},
}

func init() {
	recommenderCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	recommenderCommand.PersistentFlags().String("http-host", "0.0.0.0", "host of RESTful API")
	recommenderCommand.PersistentFlags().Int("http-port", 5000, "port of RESTful API")
	recommenderCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	log.AddFlags(recommenderCommand.PersistentFlags())
}

func main() {
	if err := recommenderCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
