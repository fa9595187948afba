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

	"github.com/petar/GoLLRB/llrb"

	"github.com/marius-se/redistack/conn"
	"github.com/marius-se/redistack/errs"
)

// waiter is a lease request parked because the pool was at capacity when it
// arrived. It is served FIFO by the arrival-ordered seq field whenever a
// connection is returned or newly created, and independently swept out of
// waiterTree once its deadline passes.
type waiter struct {
	seq      uint64
	deadline time.Time
	resultCh chan leaseResult
}

// Less orders waiters by deadline, breaking ties by arrival order so two
// waiters requested in the same instant still compare unequal (llrb.LLRB
// treats equal-Less items as duplicates).
func (w *waiter) Less(than llrb.Item) bool {
	o := than.(*waiter)
	if w.deadline.Equal(o.deadline) {
		return w.seq < o.seq
	}
	return w.deadline.Before(o.deadline)
}

// waiterQueue is the pool's FIFO of parked lease requests, kept both in
// arrival order (fifo, for handoff-on-return) and in a deadline-ordered
// llrb.LLRB (for the periodic expiry sweep), mirroring the teacher's
// timeoutTree pattern of a sorted tree swept by a ticker rather than one
// timer per entry.
type waiterQueue struct {
	fifo    []*waiter
	tree    *llrb.LLRB
	nextSeq uint64
}

func newWaiterQueue() *waiterQueue {
	return &waiterQueue{tree: llrb.New()}
}

func (q *waiterQueue) push(deadline time.Time, resultCh chan leaseResult) *waiter {
	q.nextSeq++
	w := &waiter{seq: q.nextSeq, deadline: deadline, resultCh: resultCh}
	q.fifo = append(q.fifo, w)
	q.tree.ReplaceOrInsert(w)
	return w
}

// popFIFO removes and returns the earliest-arrived waiter, or nil if none
// remain. A waiter whose deadline has passed but that the sweep has not yet
// removed is failed with ErrTimedOutAcquiringConnection and skipped.
func (q *waiterQueue) popFIFO() *waiter {
	now := time.Now()
	for len(q.fifo) > 0 {
		w := q.fifo[0]
		q.fifo = q.fifo[1:]
		if q.tree.Delete(w) == nil {
			// already swept out by expiry; skip to the next arrival.
			continue
		}
		if !w.deadline.After(now) {
			w.resultCh <- leaseResult{err: errs.ErrTimedOutAcquiringConnection}
			continue
		}
		return w
	}
	return nil
}

// removeExpired deletes and returns every waiter whose deadline is at or
// before now, in deadline order.
func (q *waiterQueue) removeExpired(now time.Time) []*waiter {
	var expired []*waiter
	for {
		min := q.tree.Min()
		if min == nil {
			break
		}
		w := min.(*waiter)
		if w.deadline.After(now) {
			break
		}
		q.tree.DeleteMin()
		expired = append(expired, w)
	}
	return expired
}

func (q *waiterQueue) len() int { return q.tree.Len() }

// leaseResult is delivered to a waiting caller exactly once.
type leaseResult struct {
	conn *conn.Connection
	err  error
}
