// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2012 Gary Burd
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

// Package conn is the thin facade that owns a socket and its pipeline, and
// the factory that dials and initializes new connections for the pool.
package conn

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/marius-se/redistack/errs"
	"github.com/marius-se/redistack/logging"
	"github.com/marius-se/redistack/pipeline"
	"github.com/marius-se/redistack/resp"
)

const readBufferSize = 4096

// subscribeCommands is the set of commands that synchronously require
// allowSubscriptions; every other command is sent unconditionally.
var subscribeCommands = map[string]struct{}{
	"SUBSCRIBE":    {},
	"UNSUBSCRIBE":  {},
	"PSUBSCRIBE":   {},
	"PUNSUBSCRIBE": {},
}

// Connection wraps one socket and its Pipeline. It is safe for concurrent
// use by multiple callers issuing Send concurrently.
type Connection struct {
	netConn net.Conn
	writer  *bufio.Writer
	writeMu sync.Mutex

	decoder  *resp.Decoder
	pipeline *pipeline.Pipeline

	allowSubscriptions     int32 // atomic bool
	sendCommandsImmediately int32 // atomic bool, default true
	closedByCaller         int32 // atomic bool
	unexpectedOnce         sync.Once
	onUnexpectedClosure    func(*Connection)

	remoteAddr string
}

// New wraps an already-dialed net.Conn in a Connection and starts its read
// loop. Most callers should use Dial instead.
func New(netConn net.Conn) *Connection {
	c := &Connection{
		netConn:                 netConn,
		writer:                  bufio.NewWriterSize(netConn, readBufferSize),
		decoder:                 resp.NewDecoder(),
		remoteAddr:              netConn.RemoteAddr().String(),
		sendCommandsImmediately: 1,
	}
	c.pipeline = pipeline.New(c.writeBytes, c.closeSocket)
	go c.readLoop()
	return c
}

// RemoteAddr returns the address this connection was dialed to.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// AllowSubscriptions reports whether subscribe-family commands may be sent
// on this connection. It defaults to false; only the pool's pub/sub pin
// flips it.
func (c *Connection) AllowSubscriptions() bool {
	return atomic.LoadInt32(&c.allowSubscriptions) == 1
}

// SetAllowSubscriptions is called by the pool when it pins or unpins this
// connection for pub/sub use.
func (c *Connection) SetAllowSubscriptions(v bool) {
	var n int32
	if v {
		n = 1
	}
	atomic.StoreInt32(&c.allowSubscriptions, n)
}

// SetSendCommandsImmediately toggles whether Send flushes the write buffer
// synchronously (the default) or leaves batching to an explicit Flush.
func (c *Connection) SetSendCommandsImmediately(v bool) {
	var n int32
	if v {
		n = 1
	}
	atomic.StoreInt32(&c.sendCommandsImmediately, n)
}

// SetOnUnexpectedClosure installs the callback fired exactly once if the
// socket closes while this connection was considered live, i.e. not via a
// caller-requested Close.
func (c *Connection) SetOnUnexpectedClosure(fn func(*Connection)) {
	c.onUnexpectedClosure = fn
}

// Send wraps cmd/args as a RESP command array and enqueues it on the
// pipeline. Subscribe-family commands fail synchronously, without ever
// reaching the wire, unless AllowSubscriptions is true.
func (c *Connection) Send(cmd string, args ...[]byte) (*pipeline.Future, error) {
	if _, restricted := subscribeCommands[cmd]; restricted && !c.AllowSubscriptions() {
		return nil, errs.ErrSubscriptionsNotAllowed
	}
	msg := resp.BuildCommand(cmd, args...)
	return c.pipeline.Write(msg), nil
}

// SendValue is Send for a command value already built by the caller (used
// by the factory to issue AUTH/SELECT without string-splitting arguments).
func (c *Connection) SendValue(msg resp.Value) *pipeline.Future {
	return c.pipeline.Write(msg)
}

// SendRaw writes cmd directly to the wire without registering a Future. It
// is for use once the pipeline is in push mode (see Pipeline.SetPushMode),
// where replies arrive unsolicited rather than paired FIFO — subscribe
// confirmations and messages on a pub/sub-pinned connection.
func (c *Connection) SendRaw(cmd string, args ...[]byte) error {
	return c.writeBytes(resp.Encode(resp.BuildCommand(cmd, args...)))
}

// Flush forces any commands buffered by SetSendCommandsImmediately(false)
// out to the socket.
func (c *Connection) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.Flush()
}

// Close triggers a graceful close: in-flight commands are allowed to drain
// before the socket tears down. It blocks until the pipeline reports the
// socket closed or ctx is done.
func (c *Connection) Close(ctx context.Context) error {
	atomic.StoreInt32(&c.closedByCaller, 1)
	done := c.pipeline.GracefulClose()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pipeline exposes the underlying pipeline for pool-level introspection
// (queue depth, counters) without re-implementing state tracking.
func (c *Connection) Pipeline() *pipeline.Pipeline { return c.pipeline }

func (c *Connection) writeBytes(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(b); err != nil {
		return err
	}
	if atomic.LoadInt32(&c.sendCommandsImmediately) == 1 {
		return c.writer.Flush()
	}
	return nil
}

func (c *Connection) closeSocket() {
	_ = c.netConn.Close()
	if atomic.LoadInt32(&c.closedByCaller) == 0 {
		c.unexpectedOnce.Do(func() {
			if c.onUnexpectedClosure != nil {
				c.onUnexpectedClosure(c)
			}
		})
	}
}

func (c *Connection) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.netConn.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])
			for {
				v, ok, derr := c.decoder.Next()
				if derr != nil {
					logging.Debugf("conn %s: protocol error: %s", c.remoteAddr, derr)
					c.pipeline.HandleTransportError(&errs.ProtocolError{Reason: derr.Error()})
					return
				}
				if !ok {
					break
				}
				c.pipeline.HandleRead(v)
			}
		}
		if err != nil {
			if err == io.EOF {
				c.pipeline.HandleUnexpectedClose()
			} else {
				c.pipeline.HandleTransportError(err)
			}
			return
		}
	}
}
