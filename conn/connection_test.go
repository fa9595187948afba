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

package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marius-se/redistack/errs"
	"github.com/marius-se/redistack/pipeline"
	"github.com/marius-se/redistack/resp"
)

// newPipe returns an in-memory connection pair: tests read commands off srv
// and write canned replies, acting as a minimal scripted Redis peer. The
// pipe is unbuffered, so a write on one end blocks until the other end reads.
func newPipe() (client net.Conn, srv net.Conn) {
	return net.Pipe()
}

func TestSendResolvesInFIFOOrder(t *testing.T) {
	client, srv := newPipe()
	defer srv.Close()
	c := New(client)

	// Send flushes synchronously, so it runs beside the reads below.
	var f1, f2 *pipeline.Future
	var err1, err2 error
	sent := make(chan struct{})
	go func() {
		f1, err1 = c.Send("GET", []byte("a"))
		f2, err2 = c.Send("GET", []byte("b"))
		close(sent)
	}()

	dec := resp.NewDecoder()
	buf := make([]byte, 4096)
	readOne := func() resp.Value {
		for {
			n, err := srv.Read(buf)
			require.NoError(t, err)
			dec.Feed(buf[:n])
			v, ok, derr := dec.Next()
			require.NoError(t, derr)
			if ok {
				return v
			}
		}
	}
	readOne() // GET a
	readOne() // GET b
	<-sent
	require.NoError(t, err1)
	require.NoError(t, err2)

	_, err := srv.Write(resp.Encode(resp.NewBulkString([]byte("1"))))
	require.NoError(t, err)
	_, err = srv.Write(resp.Encode(resp.NewBulkString([]byte("2"))))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v1, err := f1.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v1.Bulk)

	v2, err := f2.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v2.Bulk)
}

func TestSendSubscribeWithoutAllowSubscriptionsFailsSynchronously(t *testing.T) {
	client, srv := newPipe()
	defer srv.Close()
	c := New(client)

	_, err := c.Send("SUBSCRIBE", []byte("chan"))
	assert.Equal(t, errs.ErrSubscriptionsNotAllowed, err)
}

func TestUnexpectedCloseInvokesHookExactlyOnce(t *testing.T) {
	client, srv := newPipe()
	c := New(client)

	var calls int
	done := make(chan struct{})
	c.SetOnUnexpectedClosure(func(*Connection) {
		calls++
		close(done)
	})

	srv.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onUnexpectedClosure was not invoked")
	}
	assert.Equal(t, 1, calls)
}

func TestCloseDoesNotInvokeUnexpectedClosureHook(t *testing.T) {
	client, srv := newPipe()
	defer srv.Close()
	c := New(client)

	c.SetOnUnexpectedClosure(func(*Connection) {
		t.Fatal("onUnexpectedClosure must not fire on a caller-initiated Close")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
}
