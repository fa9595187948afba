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
	"math"
	"time"

	"github.com/marius-se/redistack/conn"
	"github.com/marius-se/redistack/errs"
	"github.com/marius-se/redistack/logging"
)

// createConnectionWithBackoff dials a new connection, retrying with
// exponential backoff (delay = initialDelay * factor^attempt) until either
// it succeeds, deadline passes, or the rotator has no targets at all. It
// runs the blocking dial loop on its own goroutine and calls done back on
// the pool's loop goroutine exactly once.
//
// startCreation is the Activate-time variant: no caller waits on it, so a
// new connection goes to the first waiter or the idle list (warming the
// pool), and a failure is only logged, not surfaced anywhere.
func (p *Pool) createConnectionWithBackoff(deadline time.Time, done func(*conn.Connection, error)) {
	go func() {
		c, lastAttemptedAddr, err := p.dialWithBackoff(deadline)
		p.dispatchAsync(func() {
			addr := lastAttemptedAddr
			if c != nil {
				addr = c.RemoteAddr()
			}
			if err != nil {
				logging.ConnectionFailed(addr, err)
			} else {
				logging.ConnectionCreated(addr)
			}
			if p.cfg.Stats != nil {
				if err != nil {
					p.cfg.Stats.IncConnectionFailed(addr)
				} else {
					p.cfg.Stats.IncConnectionCreated(addr)
				}
			}
			done(c, err)
		})
	}()
}

func (p *Pool) startCreation(deadline time.Time) {
	p.createConnectionWithBackoff(deadline, func(c *conn.Connection, err error) {
		p.inFlightCreations--
		if err != nil {
			// already reported via logging.ConnectionFailed in
			// createConnectionWithBackoff's dispatch closure above.
			return
		}
		// The pool may have been closed while this dial was in flight; a
		// warmup connection that lands after Close has drained the idle
		// list must not be resurrected into it.
		if p.closed {
			_ = c.Close(context.Background())
			return
		}
		if w := p.waiters.popFIFO(); w != nil {
			p.leasedCount++
			p.reportGauges()
			w.resultCh <- leaseResult{conn: c}
			return
		}
		p.idle.pushFront(c)
		p.reportGauges()
	})
}

func (p *Pool) dialWithBackoff(deadline time.Time) (*conn.Connection, string, error) {
	target, ok := p.rotator.NextTarget()
	if !ok {
		return nil, "", errs.ErrNoAvailableConnectionTargets
	}

	backoff := p.cfg.Retry.Backoff
	if backoff.InitialDelay <= 0 {
		backoff.InitialDelay = 50 * time.Millisecond
	}
	if backoff.Factor <= 0 {
		backoff.Factor = 2
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		c, err := conn.Dial(ctx, target, p.dialOptions()...)
		cancel()
		if err == nil {
			c.SetOnUnexpectedClosure(p.onConnectionClosedHook)
			return c, target, nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			return nil, target, errs.ErrTimedOutAcquiringConnection
		}

		delay := time.Duration(float64(backoff.InitialDelay) * math.Pow(backoff.Factor, float64(attempt)))
		wait := time.Until(deadline)
		if delay > wait {
			delay = wait
		}
		if delay <= 0 {
			return nil, target, errs.ErrTimedOutAcquiringConnection
		}
		timer := time.NewTimer(delay)
		<-timer.C

		target, ok = p.rotator.NextTarget()
		if !ok {
			return nil, target, lastErr
		}
	}
}

func (p *Pool) onConnectionClosedHook(c *conn.Connection) {
	logging.UnexpectedClosure(c.RemoteAddr())
	if p.cfg.Stats != nil {
		p.cfg.Stats.IncUnexpectedClosure(c.RemoteAddr())
	}
	if p.cfg.OnUnexpectedClosure != nil {
		p.cfg.OnUnexpectedClosure(c.RemoteAddr())
	}
}

func (p *Pool) dialOptions() []conn.FactoryOption {
	var opts []conn.FactoryOption
	if p.cfg.Factory.ConnectTimeout > 0 {
		opts = append(opts, conn.WithConnectTimeout(p.cfg.Factory.ConnectTimeout))
	}
	if p.cfg.Factory.Password != "" {
		opts = append(opts, conn.WithPassword(p.cfg.Factory.Password))
	}
	if p.cfg.Factory.HasInitialDatabase {
		opts = append(opts, conn.WithInitialDatabase(p.cfg.Factory.InitialDatabase))
	}
	return opts
}
