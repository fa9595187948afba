// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

// Command redistack-bench dials a pool against one or more Redis addresses,
// drives it with a small fixed workload, and exposes its live statistics
// over an admin HTTP surface, the way the teacher's main.go boots the proxy
// and its web admin side by side.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marius-se/redistack/config"
	"github.com/marius-se/redistack/discovery"
	"github.com/marius-se/redistack/logging"
	"github.com/marius-se/redistack/metrics"
	"github.com/marius-se/redistack/pool"
)

var (
	configPath      = flag.String("p", "conf", "Config file path")
	basicConfigFile = flag.String("c", "redistack.yaml", "Basic config filename")
	version         = flag.Bool("v", false, "Show version")
	help            = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
___________________________________________  ___  __
___  __ \_  ____/__  __ \__  __ \_  __ \_  |/ / \/ /
__  /_/ /  /    __  /_/ /_  /_/ /  / / /_    /__  /
_  _, _// /___  _  ____/_  _, _// /_/ /_    | _  /
/_/ |_| \____/  /_/     /_/ |_| \____/ /_/|_| /_/

`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	cfg, err := config.LoadConfig(path.Join(*configPath, *basicConfigFile))
	if err != nil {
		fmt.Printf("parse config file err: %v\n", err)
		os.Exit(1)
	}

	if err = logging.InitializeLogger(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLogLevel(cfg.LogLevel),
	); err != nil {
		fmt.Printf("failed to initialize logger, err: %s\n", err)
		os.Exit(1)
	}

	fmt.Print(banner)
	fmt.Printf("redistack-bench version: %s\n", Tag)
	logging.Infof("redistack-bench started, version: %s", Tag)

	stats := metrics.NewPoolStats("redistack", prometheus.DefaultRegisterer)
	poolCfg := cfg.PoolConfig()
	poolCfg.Stats = stats
	poolCfg.OnUnexpectedClosure = func(addr string) {
		logging.Warnf("redistack-bench: connection to %s closed unexpectedly", addr)
	}

	p, err := pool.NewPool(poolCfg)
	if err != nil {
		logging.Errorf("failed to construct pool: %s", err)
		os.Exit(1)
	}
	p.Activate()

	if cfg.Redis.AddressFile != "" {
		if _, err := discovery.Watch(cfg.Redis.AddressFile, p.UpdateConnectionAddresses); err != nil {
			logging.Errorf("failed to watch address file %s: %s", cfg.Redis.AddressFile, err)
			os.Exit(1)
		}
	}

	if cfg.WebPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.WebPort)
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		initAdminServer(ginSrv, p)
		httpSrv := &http.Server{Handler: ginSrv, Addr: addr}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("failed to start http server, err: %s", err)
			}
		}()
	}

	runBenchmark(p)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		logging.Errorf("pool close failed: %s", err)
	}
	logging.Infof("redistack-bench shutdown")
}

// runBenchmark issues a small fixed SET/GET workload through the pool so
// the admin endpoints have something to report on. It is not a load
// generator: it exists to exercise the pool end to end, not to measure it.
func runBenchmark(p *pool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.Send(ctx, "SET", []byte("redistack-bench"), []byte("ok")); err != nil {
		logging.Warnf("redistack-bench: SET failed: %s", err)
		return
	}
	if _, err := p.Send(ctx, "GET", []byte("redistack-bench")); err != nil {
		logging.Warnf("redistack-bench: GET failed: %s", err)
	}
}
