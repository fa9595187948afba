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

// Package pipeline implements the per-connection FIFO command/response
// matcher and its close/error state machine.
package pipeline

import (
	"context"

	"github.com/marius-se/redistack/resp"
)

// Result is what a Future eventually carries: either a decoded reply or the
// error that kept it from arriving.
type Result struct {
	Value resp.Value
	Err   error
}

// Future is a one-shot channel tied to exactly one outbound command. The
// pipeline fulfills it exactly once; the caller observes it with Await.
type Future struct {
	ch chan Result

	// intrusive FIFO links, owned by CommandQueue
	next, prev *Future
}

// NewFuture allocates an unresolved Future.
func NewFuture() *Future {
	return &Future{ch: make(chan Result, 1)}
}

func (f *Future) resolve(v resp.Value) { f.ch <- Result{Value: v} }
func (f *Future) fail(err error)       { f.ch <- Result{Err: err} }

// Await blocks until the Future resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (resp.Value, error) {
	select {
	case r := <-f.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return resp.Value{}, ctx.Err()
	}
}
