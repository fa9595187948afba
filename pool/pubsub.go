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

	"github.com/marius-se/redistack/conn"
	"github.com/marius-se/redistack/logging"
	"github.com/marius-se/redistack/resp"
)

// Subscribe pins the pool's reserved pub/sub connection (acquiring it on
// first use) and issues SUBSCRIBE for channels. onMessage is called for
// every message delivered to any of them; onAck, if non-nil, once per
// channel when the server confirms the subscription.
func (p *Pool) Subscribe(ctx context.Context, channels []string, onMessage func(channel string, payload []byte), onAck func(channel string, remaining int)) error {
	c, err := p.acquirePubsubConnection(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	p.dispatch(func() {
		for _, ch := range channels {
			p.pubsubChannels[ch] = onMessage
			if onAck != nil {
				p.pubsubAcks[ch] = onAck
			}
		}
		errCh <- nil
	})
	if err := <-errCh; err != nil {
		return err
	}

	args := make([][]byte, len(channels))
	for i, ch := range channels {
		args[i] = []byte(ch)
	}
	return c.SendRaw("SUBSCRIBE", args...)
}

// PSubscribe is Subscribe for glob patterns.
func (p *Pool) PSubscribe(ctx context.Context, patterns []string, onMessage func(pattern, channel string, payload []byte), onAck func(pattern string, remaining int)) error {
	c, err := p.acquirePubsubConnection(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	p.dispatch(func() {
		for _, pat := range patterns {
			p.pubsubPatterns[pat] = onMessage
			if onAck != nil {
				p.pubsubAcks[pat] = onAck
			}
		}
		errCh <- nil
	})
	if err := <-errCh; err != nil {
		return err
	}

	args := make([][]byte, len(patterns))
	for i, pat := range patterns {
		args[i] = []byte(pat)
	}
	return c.SendRaw("PSUBSCRIBE", args...)
}

// Unsubscribe drops channels from the pinned connection. Calling it while no
// pub/sub connection is pinned is a no-op: there is nothing to balance,
// since no lease was ever taken out for a subscription that never happened.
func (p *Pool) Unsubscribe(channels []string, onAck func(channel string, remaining int)) error {
	doneCh := make(chan error, 1)
	p.dispatch(func() {
		if p.pubsubConn == nil {
			doneCh <- nil
			return
		}
		if onAck != nil {
			for _, ch := range channels {
				p.pubsubAcks[ch] = onAck
			}
		}
		doneCh <- nil
	})
	if err := <-doneCh; err != nil {
		return err
	}

	c := p.currentPubsubConn()
	if c == nil {
		return nil
	}
	args := make([][]byte, len(channels))
	for i, ch := range channels {
		args[i] = []byte(ch)
	}
	return c.SendRaw("UNSUBSCRIBE", args...)
}

// PUnsubscribe is Unsubscribe for glob patterns.
func (p *Pool) PUnsubscribe(patterns []string, onAck func(pattern string, remaining int)) error {
	doneCh := make(chan error, 1)
	p.dispatch(func() {
		if p.pubsubConn == nil {
			doneCh <- nil
			return
		}
		if onAck != nil {
			for _, pat := range patterns {
				p.pubsubAcks[pat] = onAck
			}
		}
		doneCh <- nil
	})
	if err := <-doneCh; err != nil {
		return err
	}

	c := p.currentPubsubConn()
	if c == nil {
		return nil
	}
	args := make([][]byte, len(patterns))
	for i, pat := range patterns {
		args[i] = []byte(pat)
	}
	return c.SendRaw("PUNSUBSCRIBE", args...)
}

func (p *Pool) currentPubsubConn() *conn.Connection {
	ch := make(chan *conn.Connection, 1)
	p.dispatch(func() { ch <- p.pubsubConn })
	return <-ch
}

// acquirePubsubConnection returns the currently-pinned pub/sub connection,
// or leases a fresh one and pins it if none is pinned yet. Concurrent first
// subscribers serialize behind a single pin attempt so exactly one
// connection is ever pinned.
func (p *Pool) acquirePubsubConnection(ctx context.Context) (*conn.Connection, error) {
	type gate struct {
		c      *conn.Connection
		wait   chan leaseResult
		pinNow bool
	}
	gateCh := make(chan gate, 1)
	p.dispatch(func() {
		if p.pubsubConn != nil {
			gateCh <- gate{c: p.pubsubConn}
			return
		}
		if p.pinning {
			w := make(chan leaseResult, 1)
			p.pinWaiters = append(p.pinWaiters, w)
			gateCh <- gate{wait: w}
			return
		}
		p.pinning = true
		gateCh <- gate{pinNow: true}
	})

	g := <-gateCh
	if g.c != nil {
		return g.c, nil
	}
	if g.wait != nil {
		select {
		case r := <-g.wait:
			return r.conn, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c, err := p.LeaseConnection(ctx)
	p.dispatch(func() {
		p.pinning = false
		if err == nil {
			c.SetAllowSubscriptions(true)
			c.Pipeline().SetPushMode(func(v resp.Value) {
				p.dispatchAsync(func() { p.routePubsubValue(v) })
			})
			p.pubsubConn = c
			logging.PubsubPinned(c.RemoteAddr())
		}
		p.reportGauges()
		waiters := p.pinWaiters
		p.pinWaiters = nil
		for _, w := range waiters {
			w <- leaseResult{conn: c, err: err}
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// routePubsubValue runs on the pool's loop goroutine (dispatched from the
// pinned connection's read loop via SetPushMode) and demultiplexes one
// unsolicited array onto the matching channel/pattern handler.
func (p *Pool) routePubsubValue(v resp.Value) {
	if v.Type != resp.Array || len(v.Items) < 3 {
		return
	}
	kind := string(v.Items[0].Bulk)

	switch kind {
	case "subscribe", "psubscribe":
		name := string(v.Items[1].Bulk)
		remaining := int(v.Items[2].Int)
		if cb, ok := p.pubsubAcks[name]; ok {
			cb(name, remaining)
		}

	case "unsubscribe", "punsubscribe":
		name := string(v.Items[1].Bulk)
		remaining := int(v.Items[2].Int)
		delete(p.pubsubChannels, name)
		delete(p.pubsubPatterns, name)
		if cb, ok := p.pubsubAcks[name]; ok {
			cb(name, remaining)
			delete(p.pubsubAcks, name)
		}
		if remaining == 0 {
			p.unpinPubsubConnection()
		}

	case "message":
		channel := string(v.Items[1].Bulk)
		if cb, ok := p.pubsubChannels[channel]; ok {
			cb(channel, v.Items[2].Bulk)
		}

	case "pmessage":
		if len(v.Items) < 4 {
			return
		}
		pattern := string(v.Items[1].Bulk)
		channel := string(v.Items[2].Bulk)
		if cb, ok := p.pubsubPatterns[pattern]; ok {
			cb(pattern, channel, v.Items[3].Bulk)
		}
	}
}

// unpinPubsubConnection reverses acquirePubsubConnection's pin and returns
// the connection to ordinary circulation: it goes to the next waiter, or to
// the idle list (closed instead when a leaky pool's idle list is full). Unlike
// ReturnConnection, it does not check whether the connection has already
// died.
func (p *Pool) unpinPubsubConnection() {
	c := p.pubsubConn
	if c == nil {
		return
	}
	logging.PubsubUnpinned(c.RemoteAddr())
	c.SetAllowSubscriptions(false)
	c.Pipeline().SetPushMode(nil)
	p.pubsubConn = nil
	p.pubsubChannels = make(map[string]func(string, []byte))
	p.pubsubPatterns = make(map[string]func(string, string, []byte))
	p.pubsubAcks = make(map[string]func(string, int))

	p.leasedCount--
	defer p.reportGauges()
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
}
