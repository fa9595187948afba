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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolStatsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPoolStats("redistack_test", reg)
	require.NotNil(t, s)

	// A Vec exports nothing until it has a child, so touch every collector.
	s.ObserveLease(0)
	s.SetGauges(0, 0, 0)
	s.SetPubsubPinned(false)
	s.IncConnectionCreated("10.0.0.1:6379")
	s.IncConnectionFailed("10.0.0.1:6379")
	s.IncUnexpectedClosure("10.0.0.1:6379")
	s.IncSlowLease("10.0.0.1:6379")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(mfs), 8)
}

func TestPoolStatsSetGaugesReflectsLatestValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPoolStats("redistack_gauges", reg)

	s.SetGauges(3, 2, 1)
	assert.Equal(t, float64(3), testutil.ToFloat64(s.IdleConnections.WithLabelValues()))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.LeasedConnections.WithLabelValues()))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.WaitingLeases.WithLabelValues()))

	s.SetGauges(0, 0, 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(s.IdleConnections.WithLabelValues()))
}

func TestPoolStatsSetPubsubPinnedTogglesZeroOne(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPoolStats("redistack_pin", reg)

	s.SetPubsubPinned(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.PubsubPinned.WithLabelValues()))

	s.SetPubsubPinned(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(s.PubsubPinned.WithLabelValues()))
}

func TestPoolStatsCountersIncrementPerAddress(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPoolStats("redistack_counters", reg)

	s.IncConnectionCreated("10.0.0.1:6379")
	s.IncConnectionCreated("10.0.0.1:6379")
	s.IncConnectionFailed("10.0.0.2:6379")
	s.IncUnexpectedClosure("10.0.0.1:6379")
	s.IncSlowLease("10.0.0.1:6379")

	assert.Equal(t, float64(2), testutil.ToFloat64(s.ConnectionsCreated.WithLabelValues("10.0.0.1:6379")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.ConnectionsFailed.WithLabelValues("10.0.0.2:6379")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.UnexpectedClosures.WithLabelValues("10.0.0.1:6379")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.SlowLeases.WithLabelValues("10.0.0.1:6379")))
}

func TestPoolStatsObserveLeaseRecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPoolStats("redistack_hist", reg)

	s.ObserveLease(0.01)
	s.ObserveLease(0.2)

	assert.Equal(t, 1, testutil.CollectAndCount(s.LeaseLatency))
}
