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

// Package metrics exposes prometheus instrumentation for a pool: lease
// latency, idle/leased/waiting counts, connection creations and failures
// (one per creation outcome, not per dial attempt), unexpected closures, slow
// leases, and the pub/sub pin state. It mirrors the shape of the teacher's proxy-wide
// ProxyStats, scoped down to what a client-side pool can actually observe
// about itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is one pool's instrumentation. Callers that run more than one
// named pool construct one PoolStats per pool, with a distinct namespace.
type PoolStats struct {
	LeaseLatency *prometheus.HistogramVec

	IdleConnections   *prometheus.GaugeVec
	LeasedConnections *prometheus.GaugeVec
	WaitingLeases     *prometheus.GaugeVec

	ConnectionsCreated *prometheus.CounterVec
	ConnectionsFailed  *prometheus.CounterVec
	UnexpectedClosures *prometheus.CounterVec
	SlowLeases         *prometheus.CounterVec

	PubsubPinned *prometheus.GaugeVec
}

// NewPoolStats builds and registers a PoolStats under namespace. Registering
// the same namespace twice against the same registerer panics, matching
// prometheus.MustRegister's own contract (and the teacher's NewProxyStats).
func NewPoolStats(namespace string, reg prometheus.Registerer) *PoolStats {
	s := &PoolStats{
		LeaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lease_latency_seconds",
			Help:      "time spent acquiring a connection from the pool",
			Buckets:   prometheus.DefBuckets,
		}, nil),
		IdleConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "idle_connections",
			Help:      "connections currently idle in the pool",
		}, nil),
		LeasedConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leased_connections",
			Help:      "connections currently leased out",
		}, nil),
		WaitingLeases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_leases",
			Help:      "callers parked waiting for a connection to free up",
		}, nil),
		ConnectionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_created_total",
			Help:      "connections successfully dialed",
		}, []string{"addr"}),
		ConnectionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_failed_total",
			Help:      "dial attempts that failed",
		}, []string{"addr"}),
		UnexpectedClosures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unexpected_closures_total",
			Help:      "connections that closed without a caller-initiated Close",
		}, []string{"addr"}),
		SlowLeases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_leases_total",
			Help:      "leases that exceeded the configured slow-lease threshold",
		}, []string{"addr"}),
		PubsubPinned: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pubsub_pinned",
			Help:      "1 if a connection is currently pinned for pub/sub, 0 otherwise",
		}, nil),
	}
	reg.MustRegister(
		s.LeaseLatency, s.IdleConnections, s.LeasedConnections, s.WaitingLeases,
		s.ConnectionsCreated, s.ConnectionsFailed, s.UnexpectedClosures,
		s.SlowLeases, s.PubsubPinned,
	)
	return s
}

// ObserveLease records how long a successful lease took.
func (s *PoolStats) ObserveLease(seconds float64) {
	s.LeaseLatency.WithLabelValues().Observe(seconds)
}

// SetGauges snapshots the pool's current counts. Called on every state
// transition rather than polled, since the pool already serializes those
// transitions on its own loop goroutine.
func (s *PoolStats) SetGauges(idle, leased, waiting int) {
	s.IdleConnections.WithLabelValues().Set(float64(idle))
	s.LeasedConnections.WithLabelValues().Set(float64(leased))
	s.WaitingLeases.WithLabelValues().Set(float64(waiting))
}

func (s *PoolStats) SetPubsubPinned(pinned bool) {
	v := 0.0
	if pinned {
		v = 1.0
	}
	s.PubsubPinned.WithLabelValues().Set(v)
}

func (s *PoolStats) IncConnectionCreated(addr string)  { s.ConnectionsCreated.WithLabelValues(addr).Inc() }
func (s *PoolStats) IncConnectionFailed(addr string)   { s.ConnectionsFailed.WithLabelValues(addr).Inc() }
func (s *PoolStats) IncUnexpectedClosure(addr string)  { s.UnexpectedClosures.WithLabelValues(addr).Inc() }
func (s *PoolStats) IncSlowLease(addr string)          { s.SlowLeases.WithLabelValues(addr).Inc() }
