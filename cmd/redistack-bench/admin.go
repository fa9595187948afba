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

package main

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marius-se/redistack/pool"
)

// poolStatus is the JSON status endpoint's shape: the teacher's equivalent
// reports cluster topology over /cluster/nodes, but clustering is out of
// scope here, so the status endpoint reports the pool's own lease state
// instead.
type poolStatus struct {
	Idle          int  `json:"idle"`
	Leased        int  `json:"leased"`
	Waiting       int  `json:"waiting"`
	PubsubPinned  bool `json:"pubsub_pinned"`
	ActiveTargets int  `json:"active_targets"`
}

func initAdminServer(ginSrv *gin.Engine, p *pool.Pool) {
	pprof.Register(ginSrv)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginSrv.GET("/pool/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshotPoolStatus(p))
	})
}

func snapshotPoolStatus(p *pool.Pool) poolStatus {
	idle, leased, waiting, pinned := p.Snapshot()
	return poolStatus{
		Idle:          idle,
		Leased:        leased,
		Waiting:       waiting,
		PubsubPinned:  pinned,
		ActiveTargets: p.TargetCount(),
	}
}
