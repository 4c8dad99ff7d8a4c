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

// Package config loads and validates the recommender configuration.
package config

import (
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration for the recommender.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Model     ModelConfig     `mapstructure:"model"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

// ServerConfig is the configuration for the HTTP server.
type ServerConfig struct {
	HttpHost string `mapstructure:"http_host"`
	HttpPort int    `mapstructure:"http_port"`
}

// DataConfig is the configuration for dataset locations and the cleaning
// rules applied to the raw transaction log.
type DataConfig struct {
	DataPath      string       `mapstructure:"data_path"`
	CleanDataPath string       `mapstructure:"clean_data_path"`
	AuxiliaryPath string       `mapstructure:"auxiliary_path"`
	ModelPath     string       `mapstructure:"model_path"`
	Schema        SchemaConfig `mapstructure:"schema"`
	Clean         CleanConfig  `mapstructure:"clean"`
}

// SchemaConfig maps the recommender to the column names of the raw dataset.
type SchemaConfig struct {
	InvoiceNoColumn   string `mapstructure:"invoice_no_column"`
	StockCodeColumn   string `mapstructure:"stock_code_column"`
	DescriptionColumn string `mapstructure:"description_column"`
	QuantityColumn    string `mapstructure:"quantity_column"`
	InvoiceDateColumn string `mapstructure:"invoice_date_column"`
	UnitPriceColumn   string `mapstructure:"unit_price_column"`
	CustomerIDColumn  string `mapstructure:"customer_id_column"`
	CountryColumn     string `mapstructure:"country_column"`
}

// CleanConfig is the configuration for transaction cleaning.
type CleanConfig struct {
	DateLayout      string   `mapstructure:"date_layout"`
	Country         string   `mapstructure:"country"`
	Year            int      `mapstructure:"year"`
	MinUnitPrice    float64  `mapstructure:"min_unit_price"`
	InvoicePrefixes []string `mapstructure:"invoice_prefixes"`
}

// ModelConfig is the configuration for model training.
type ModelConfig struct {
	Loss        string  `mapstructure:"loss"`
	NFactors    int     `mapstructure:"n_factors"`
	NEpochs     int     `mapstructure:"n_epochs"`
	FitJobs     int     `mapstructure:"fit_jobs"`
	Lr          float64 `mapstructure:"lr"`
	Reg         float64 `mapstructure:"reg"`
	RandomState int     `mapstructure:"random_state"`
	TopK        int     `mapstructure:"top_k"`
	Verbose     int     `mapstructure:"verbose"`
}

// RecommendConfig is the configuration for recommendation queries.
type RecommendConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

func setDefault() {
	// [server]
	viper.SetDefault("server.http_host", "0.0.0.0")
	viper.SetDefault("server.http_port", 5000)
	// [data]
	viper.SetDefault("data.data_path", "data/data.csv")
	viper.SetDefault("data.clean_data_path", "data/data_clean.csv")
	viper.SetDefault("data.auxiliary_path", "data/auxiliary")
	viper.SetDefault("data.model_path", "model/recommender.model")
	// [data.schema]
	viper.SetDefault("data.schema.invoice_no_column", "InvoiceNo")
	viper.SetDefault("data.schema.stock_code_column", "StockCode")
	viper.SetDefault("data.schema.description_column", "Description")
	viper.SetDefault("data.schema.quantity_column", "Quantity")
	viper.SetDefault("data.schema.invoice_date_column", "InvoiceDate")
	viper.SetDefault("data.schema.unit_price_column", "UnitPrice")
	viper.SetDefault("data.schema.customer_id_column", "CustomerID")
	viper.SetDefault("data.schema.country_column", "Country")
	// [data.clean]
	viper.SetDefault("data.clean.date_layout", "1/2/2006 15:04")
	viper.SetDefault("data.clean.country", "United Kingdom")
	viper.SetDefault("data.clean.year", 2011)
	viper.SetDefault("data.clean.min_unit_price", 0.0)
	viper.SetDefault("data.clean.invoice_prefixes", []string{"C", "A"})
	// [model]
	viper.SetDefault("model.loss", "warp")
	viper.SetDefault("model.n_factors", 140)
	viper.SetDefault("model.n_epochs", 10)
	viper.SetDefault("model.fit_jobs", 6)
	viper.SetDefault("model.lr", 0.05)
	viper.SetDefault("model.reg", 0.01)
	viper.SetDefault("model.random_state", 0)
	viper.SetDefault("model.top_k", 3)
	viper.SetDefault("model.verbose", 1)
	// [recommend]
	viper.SetDefault("recommend.threshold", 0.0)
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() *Config {
	setDefault()
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		panic(err)
	}
	return &conf
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads the configuration from a TOML file. Environment variables
// override values from the file.
func LoadConfig(path string) (*Config, error) {
	setDefault()

	// bind environment variables
	bindings := []configBinding{
		{"server.http_host", "RECOMMENDER_HTTP_HOST"},
		{"server.http_port", "RECOMMENDER_HTTP_PORT"},
		{"data.data_path", "RECOMMENDER_DATA_PATH"},
		{"data.clean_data_path", "RECOMMENDER_CLEAN_DATA_PATH"},
		{"data.auxiliary_path", "RECOMMENDER_AUXILIARY_PATH"},
		{"data.model_path", "RECOMMENDER_MODEL_PATH"},
		{"model.fit_jobs", "RECOMMENDER_FIT_JOBS"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks that the configuration is usable.
func (config *Config) Validate() error {
	if config.Server.HttpPort <= 0 || config.Server.HttpPort > 65535 {
		return errors.NotValidf("http_port %v", config.Server.HttpPort)
	}
	if config.Model.Loss != "warp" && config.Model.Loss != "bpr" {
		return errors.NotValidf("loss %v", config.Model.Loss)
	}
	if config.Model.NFactors <= 0 {
		return errors.NotValidf("n_factors %v", config.Model.NFactors)
	}
	if config.Model.NEpochs <= 0 {
		return errors.NotValidf("n_epochs %v", config.Model.NEpochs)
	}
	if config.Model.FitJobs <= 0 {
		return errors.NotValidf("fit_jobs %v", config.Model.FitJobs)
	}
	if config.Model.TopK <= 0 {
		return errors.NotValidf("top_k %v", config.Model.TopK)
	}
	if config.Model.Verbose <= 0 {
		return errors.NotValidf("verbose %v", config.Model.Verbose)
	}
	if config.Data.Clean.DateLayout == "" {
		return errors.NotValidf("empty date_layout")
	}
	return nil
}
