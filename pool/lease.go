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
	"context"
	"time"

	"github.com/marius-se/redistack/conn"
	"github.com/marius-se/redistack/errs"
	"github.com/marius-se/redistack/logging"
	"github.com/marius-se/redistack/pipeline"
)

// LeaseConnection hands out an idle connection, or creates one if the pool
// has spare capacity, or parks the caller as a waiter if at capacity. It
// honors ctx's deadline (or, absent one, cfg.Retry.Timeout) for the whole
// attempt, including any connection creation it triggers.
func (p *Pool) LeaseConnection(ctx context.Context) (*conn.Connection, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(effectiveTimeout(p.cfg.Retry.Timeout))
	}

	resultCh := make(chan leaseResult, 1)
	started := time.Now()
	p.dispatch(func() { p.handleLease(deadline, resultCh) })

	select {
	case r := <-resultCh:
		if r.err == nil {
			took := time.Since(started)
			logging.LeaseAcquired(r.conn.RemoteAddr(), took)
			logSlowLease(r.conn.RemoteAddr(), started, p.slowLeaseThreshold())
			if p.cfg.Stats != nil {
				p.cfg.Stats.ObserveLease(took.Seconds())
				if p.slowLeaseThreshold() > 0 && took > p.slowLeaseThreshold() {
					p.cfg.Stats.IncSlowLease(r.conn.RemoteAddr())
				}
			}
		}
		return r.conn, r.err
	case <-ctx.Done():
		logging.LeaseTimedOut(time.Since(started))
		return nil, errs.ErrTimedOutAcquiringConnection
	}
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// handleLease runs on the loop goroutine.
func (p *Pool) handleLease(deadline time.Time, resultCh chan leaseResult) {
	if p.closed {
		resultCh <- leaseResult{err: errs.ErrPoolClosed}
		return
	}

	if c := p.idle.popBack(); c != nil {
		p.leasedCount++
		p.reportGauges()
		resultCh <- leaseResult{conn: c}
		return
	}

	if p.canCreateMore() {
		p.inFlightCreations++
		p.createConnectionWithBackoff(deadline, func(c *conn.Connection, err error) {
			p.inFlightCreations--

			// The lease attempt that triggered this creation may already
			// have timed out. Its result is discarded either way: a
			// freshly-created connection is closed rather than kept, and
			// the lease fails with ErrTimedOutAcquiringConnection.
			if p.closed {
				if err == nil {
					_ = c.Close(context.Background())
				}
				resultCh <- leaseResult{err: errs.ErrPoolClosed}
				return
			}
			if time.Now().After(deadline) {
				if err == nil {
					_ = c.Close(context.Background())
				}
				resultCh <- leaseResult{err: errs.ErrTimedOutAcquiringConnection}
				return
			}
			if err != nil {
				resultCh <- leaseResult{err: err}
				return
			}
			p.leasedCount++
			p.reportGauges()
			resultCh <- leaseResult{conn: c}
		})
		return
	}

	p.waiters.push(deadline, resultCh)
	p.reportGauges()
}

func (p *Pool) canCreateMore() bool {
	if p.cfg.MaxConnections.Kind == MaxConnectionLeaky {
		return true
	}
	total := p.idle.count + p.leasedCount + p.inFlightCreations
	return total < p.cfg.MaxConnections.N
}

// ReturnConnection returns a leased connection to the pool. A pool that is
// closed, or a leaky pool already holding MaxConnections idle connections,
// closes c instead of keeping it. Each call does exactly one of: hand c to a
// waiter, push it to idle, close it, or drop it (if it already died), even
// if ReturnConnection races with itself on two goroutines — both calls still
// individually hop onto the single loop goroutine, which serializes them.
func (p *Pool) ReturnConnection(c *conn.Connection) {
	p.dispatch(func() {
		p.leasedCount--
		defer p.reportGauges()

		if p.closed {
			_ = c.Close(context.Background())
			p.maybeCompleteClose()
			return
		}

		// A connection that died while leased (transport error, protocol
		// error, peer hangup) is never handed back out: it is simply
		// dropped here, and the pool creates a fresh one on the next lease
		// that needs it.
		if c.Pipeline().State() != pipeline.StateDefault {
			return
		}

		if w := p.waiters.popFIFO(); w != nil {
			p.leasedCount++
			w.resultCh <- leaseResult{conn: c}
			return
		}

		if p.cfg.MaxConnections.Kind == MaxConnectionLeaky && p.idle.count >= p.cfg.MaxConnections.N {
			_ = c.Close(context.Background())
			return
		}

		p.idle.pushFront(c)
	})
}

func (p *Pool) maybeCompleteClose() {
	if !p.closed || p.leasedCount > 0 {
		return
	}
	completions := p.closeCompletions
	p.closeCompletions = nil
	for _, fn := range completions {
		fn()
	}
}

// WithConnection leases a connection, runs body on it, and returns it
// exactly once regardless of whether body panics, errors, or succeeds.
// Every command issued inside body runs on the same physical connection.
func (p *Pool) WithConnection(ctx context.Context, body func(*conn.Connection) (interface{}, error)) (interface{}, error) {
	c, err := p.LeaseConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer p.ReturnConnection(c)
	return body(c)
}

// Send leases a connection, issues cmd, awaits the reply, and returns the
// connection, all within one round trip.
func (p *Pool) Send(ctx context.Context, cmd string, args ...[]byte) (interface{}, error) {
	return p.WithConnection(ctx, func(c *conn.Connection) (interface{}, error) {
		f, err := c.Send(cmd, args...)
		if err != nil {
			return nil, err
		}
		return f.Await(ctx)
	})
}
