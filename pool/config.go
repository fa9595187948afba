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

package pool

import (
	"time"

	"github.com/marius-se/redistack/metrics"
)

// MaxConnectionKind distinguishes the two overflow policies a pool can run
// under.
type MaxConnectionKind uint8

const (
	// MaxConnectionStrict caps total connections (idle + leased) at N.
	MaxConnectionStrict MaxConnectionKind = iota
	// MaxConnectionLeaky caps only preserved idle connections at N; leased
	// connections may transiently exceed N.
	MaxConnectionLeaky
)

// MaxConnectionCount is the pool's overflow policy.
type MaxConnectionCount struct {
	Kind MaxConnectionKind
	N    int
}

// Strict caps total connections at n.
func Strict(n int) MaxConnectionCount { return MaxConnectionCount{MaxConnectionStrict, n} }

// Leaky caps preserved idle connections at n but allows transient overflow
// of leased connections.
func Leaky(n int) MaxConnectionCount { return MaxConnectionCount{MaxConnectionLeaky, n} }

// BackoffConfig governs the delay between reconnection attempts:
// delay = InitialDelay * Factor^attempt.
type BackoffConfig struct {
	InitialDelay time.Duration
	Factor       float64
}

// RetryConfig bounds a single lease attempt's connection-establishment
// retries.
type RetryConfig struct {
	Timeout time.Duration
	Backoff BackoffConfig
}

// FactoryConfig configures every connection the pool creates.
type FactoryConfig struct {
	Password           string
	InitialDatabase    int
	HasInitialDatabase bool
	ConnectTimeout     time.Duration

	// SlowLeaseThreshold, if non-zero, causes leases that take longer than
	// this to be reported via logging.SlowLease.
	SlowLeaseThreshold time.Duration
}

// Config is the pool's full configuration, validated by NewPool.
type Config struct {
	InitialAddresses []string
	MaxConnections   MaxConnectionCount
	MinConnections   int
	Retry            RetryConfig
	Factory          FactoryConfig

	// OnUnexpectedClosure, if set, is invoked with a connection's remote
	// address whenever that connection's socket closes without a caller
	// having requested it (transport error, protocol error, peer hangup).
	// It is a pure notification hook: the pool itself does not retry that
	// connection, it is simply never returned to idle.
	OnUnexpectedClosure func(addr string)

	// Stats, if non-nil, receives prometheus instrumentation for every lease,
	// return, creation and pub/sub pin transition. A pool with a nil Stats
	// runs exactly as before, just unobserved.
	Stats *metrics.PoolStats
}
