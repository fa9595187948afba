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

// Package pool implements a size-bounded, event-loop-affine connection pool:
// leasing, idle-floor maintenance, backoff reconnection, round-robin target
// selection and a reserved pub/sub connection slot.
package pool

import (
	"context"
	"time"

	"github.com/marius-se/redistack/conn"
	"github.com/marius-se/redistack/errs"
	"github.com/marius-se/redistack/logging"
	"github.com/marius-se/redistack/rotator"
)

// Pool hands out *conn.Connection values leased against a rotating set of
// Redis addresses. All mutable state (idle list, counts, waiters,
// pub/sub pin) is touched only on the actor goroutine started by NewPool;
// every exported method hops onto that goroutine via dispatch before
// reading or writing it, so the pool is safe to call from any goroutine.
type Pool struct {
	cfg     Config
	rotator *rotator.Rotator

	actions chan func()

	// stopCh would signal the loop and sweep goroutines to exit, but nothing
	// ever closes it: Close must keep both servicing p.actions after it
	// returns, so that a lease attempted after Close resolves with
	// ErrPoolClosed instead of hanging forever on an unserviced channel.
	stopCh chan struct{}

	idle              idleList
	leasedCount       int
	inFlightCreations int
	waiters           *waiterQueue

	pubsubConn      *conn.Connection
	pubsubRefCount  int
	pinning         bool
	pinWaiters      []chan leaseResult
	pubsubChannels  map[string]func(channel string, payload []byte)
	pubsubPatterns  map[string]func(pattern, channel string, payload []byte)
	pubsubAcks      map[string]func(channel string, remaining int)

	closed           bool
	closeCompletions []func()

	activated bool
}

// NewPool validates cfg and constructs a Pool. The returned pool does no
// work until Activate is called.
func NewPool(cfg Config) (*Pool, error) {
	if len(cfg.InitialAddresses) == 0 {
		return nil, errs.ErrNoAvailableConnectionTargets
	}
	p := &Pool{
		cfg:            cfg,
		rotator:        rotator.New(cfg.InitialAddresses),
		actions:        make(chan func(), 256),
		stopCh:         make(chan struct{}),
		waiters:        newWaiterQueue(),
		pubsubChannels: make(map[string]func(string, []byte)),
		pubsubPatterns: make(map[string]func(string, string, []byte)),
		pubsubAcks:     make(map[string]func(string, int)),
	}
	go p.run()
	go p.sweepExpiredWaiters()
	return p, nil
}

func (p *Pool) run() {
	for {
		select {
		case fn := <-p.actions:
			fn()
		case <-p.stopCh:
			return
		}
	}
}

// dispatch runs fn on the pool's loop goroutine and waits for it to
// complete. It is the single hop-to-loop primitive every other method is
// built from.
func (p *Pool) dispatch(fn func()) {
	done := make(chan struct{})
	select {
	case p.actions <- func() { fn(); close(done) }:
	case <-p.stopCh:
		return
	}
	select {
	case <-done:
	case <-p.stopCh:
	}
}

// dispatchAsync runs fn on the loop goroutine without waiting for it to
// complete; used by background goroutines (connection creation, the waiter
// sweep) reporting results back onto the loop.
func (p *Pool) dispatchAsync(fn func()) {
	select {
	case p.actions <- fn:
	case <-p.stopCh:
	}
}

func (p *Pool) sweepExpiredWaiters() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.dispatchAsync(func() {
				now := time.Now()
				for _, w := range p.waiters.removeExpired(now) {
					logging.LeaseTimedOut(now.Sub(w.deadline))
					w.resultCh <- leaseResult{err: errs.ErrTimedOutAcquiringConnection}
				}
			})
		case <-p.stopCh:
			return
		}
	}
}

// Activate schedules creation of MinConnections idle connections. It is
// idempotent.
func (p *Pool) Activate() {
	p.dispatch(func() {
		if p.activated {
			return
		}
		p.activated = true
		for i := 0; i < p.cfg.MinConnections; i++ {
			p.inFlightCreations++
			p.startCreation(warmupDeadline(p.cfg))
		}
		p.reportGauges()
	})
}

func warmupDeadline(cfg Config) time.Time {
	if cfg.Retry.Timeout <= 0 {
		return time.Now().Add(30 * time.Second)
	}
	return time.Now().Add(cfg.Retry.Timeout)
}

// UpdateConnectionAddresses replaces the rotator's target list, as used by a
// discovery watcher reacting to a changed address set.
func (p *Pool) UpdateConnectionAddresses(addresses []string) {
	p.rotator.Update(addresses)
}

// Close marks the pool closed, refuses new leases, closes idle connections
// synchronously, and blocks until every leased connection has been returned
// and closed (or ctx expires).
func (p *Pool) Close(ctx context.Context) error {
	done := make(chan struct{})
	p.dispatch(func() {
		if p.closed {
			close(done)
			return
		}
		p.closed = true
		p.idle.drain(func(c *conn.Connection) {
			_ = c.Close(context.Background())
		})
		if p.pubsubConn != nil {
			_ = p.pubsubConn.Close(context.Background())
			p.pubsubConn = nil
			p.pubsubRefCount = 0
		}
		for _, w := range p.pinWaiters {
			w <- leaseResult{err: errs.ErrPoolClosed}
		}
		p.pinWaiters = nil
		p.pinning = false
		for _, w := range p.waiters.removeExpired(time.Now().Add(365 * 24 * time.Hour)) {
			w.resultCh <- leaseResult{err: errs.ErrPoolClosed}
		}
		p.reportGauges()
		if p.leasedCount == 0 {
			close(done)
			return
		}
		p.closeCompletions = append(p.closeCompletions, func() { close(done) })
	})

	// The loop goroutine is intentionally left running after Close
	// completes: calls made after Close returns must still get a clean
	// PoolClosed error from handleLease rather than blocking forever
	// because nothing services p.actions anymore.
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot reports the pool's current idle/leased/waiting counts and
// whether a pub/sub connection is pinned, for admin/status surfaces.
func (p *Pool) Snapshot() (idle, leased, waiting int, pubsubPinned bool) {
	type result struct {
		idle, leased, waiting int
		pinned                bool
	}
	ch := make(chan result, 1)
	p.dispatch(func() {
		ch <- result{p.idle.count, p.leasedCount, p.waiters.len(), p.pubsubConn != nil}
	})
	r := <-ch
	return r.idle, r.leased, r.waiting, r.pinned
}

// TargetCount reports how many addresses the rotator currently holds.
func (p *Pool) TargetCount() int { return p.rotator.Len() }

func (p *Pool) slowLeaseThreshold() time.Duration { return p.cfg.Factory.SlowLeaseThreshold }

func logSlowLease(addr string, started time.Time, threshold time.Duration) {
	if threshold <= 0 {
		return
	}
	if took := time.Since(started); took > threshold {
		logging.SlowLease(addr, took.Milliseconds(), threshold.Milliseconds())
	}
}

// reportGauges pushes the pool's current counts to Stats. Called from the
// loop goroutine after every mutation to idle/leasedCount/waiters, so the
// gauges are always a snapshot of a fully-settled state, never a
// transitional one.
func (p *Pool) reportGauges() {
	if p.cfg.Stats == nil {
		return
	}
	p.cfg.Stats.SetGauges(p.idle.count, p.leasedCount, p.waiters.len())
	p.cfg.Stats.SetPubsubPinned(p.pubsubConn != nil)
}
