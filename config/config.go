// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the YAML configuration for a pool-
// backed client: addresses, sizing, backoff, and the ambient logging/admin
// settings, the same load-then-validate shape as the teacher's own
// config.Config.
package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/marius-se/redistack/logging"
	"github.com/marius-se/redistack/pool"
)

type Config struct {
	WebPort      int    `yaml:"web_port"`
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
	LogExpireDay int    `yaml:"log_expire_day"`
	Redis        redisConfig `yaml:"redis"`
}

type redisConfig struct {
	Addresses          []string `yaml:"addresses"`
	Password           string   `yaml:"password"`
	InitialDatabase    int      `yaml:"initial_database"`
	HasInitialDatabase bool     `yaml:"has_initial_database"`
	MinConnections     int      `yaml:"min_connections"`
	MaxConnections     int      `yaml:"max_connections"`
	Leaky              bool     `yaml:"leaky"`
	ConnectTimeoutMs   int      `yaml:"connect_timeout_ms"`
	RetryTimeoutMs     int      `yaml:"retry_timeout_ms"`
	BackoffInitialMs   int      `yaml:"backoff_initial_ms"`
	BackoffFactor      float64  `yaml:"backoff_factor"`
	SlowLeaseMs        int64    `yaml:"slow_lease_ms"`
	AddressFile        string   `yaml:"address_file"`
}

// LoadConfig reads, unmarshals, and validates fileName.
func LoadConfig(fileName string) (*Config, error) {
	file, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file from %s", fileName)
	}
	var cfg Config
	if err = yaml.Unmarshal(file, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	if err = cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.LogLevel != "" {
		if _, ok := logging.LevelMapperRev[c.LogLevel]; !ok {
			return errors.Errorf("unknown log level %s", c.LogLevel)
		}
	}
	if len(c.Redis.Addresses) < 1 && c.Redis.AddressFile == "" {
		return errors.Errorf("either redis.addresses or redis.address_file must be set")
	}
	if c.Redis.MaxConnections < 1 {
		return errors.Errorf("redis.max_connections must be at least 1")
	}
	return nil
}

// PoolConfig translates the loaded YAML into a pool.Config. InitialAddresses
// is taken from redis.addresses only; with only an address file configured
// it is empty, and pool.NewPool rejects such a config with
// ErrNoAvailableConnectionTargets. discovery.Watch updates the addresses of
// a pool that already exists.
func (c *Config) PoolConfig() pool.Config {
	maxConns := pool.Strict(c.Redis.MaxConnections)
	if c.Redis.Leaky {
		maxConns = pool.Leaky(c.Redis.MaxConnections)
	}

	return pool.Config{
		InitialAddresses: c.Redis.Addresses,
		MaxConnections:   maxConns,
		MinConnections:   c.Redis.MinConnections,
		Retry: pool.RetryConfig{
			Timeout: time.Duration(c.Redis.RetryTimeoutMs) * time.Millisecond,
			Backoff: pool.BackoffConfig{
				InitialDelay: time.Duration(c.Redis.BackoffInitialMs) * time.Millisecond,
				Factor:       c.Redis.BackoffFactor,
			},
		},
		Factory: pool.FactoryConfig{
			Password:           c.Redis.Password,
			InitialDatabase:    c.Redis.InitialDatabase,
			HasInitialDatabase: c.Redis.HasInitialDatabase,
			ConnectTimeout:     time.Duration(c.Redis.ConnectTimeoutMs) * time.Millisecond,
			SlowLeaseThreshold: time.Duration(c.Redis.SlowLeaseMs) * time.Millisecond,
		},
	}
}
