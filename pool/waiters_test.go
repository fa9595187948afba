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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiterQueuePopFIFOOrdersByArrival(t *testing.T) {
	q := newWaiterQueue()
	far := time.Now().Add(time.Hour)

	w1 := q.push(far, make(chan leaseResult, 1))
	w2 := q.push(far, make(chan leaseResult, 1))
	w3 := q.push(far, make(chan leaseResult, 1))

	assert.Same(t, w1, q.popFIFO())
	assert.Same(t, w2, q.popFIFO())
	assert.Same(t, w3, q.popFIFO())
	assert.Nil(t, q.popFIFO())
}

func TestWaiterQueueRemoveExpiredOrdersByDeadline(t *testing.T) {
	q := newWaiterQueue()
	now := time.Now()

	late := q.push(now.Add(3*time.Second), make(chan leaseResult, 1))
	soon := q.push(now.Add(1*time.Second), make(chan leaseResult, 1))
	mid := q.push(now.Add(2*time.Second), make(chan leaseResult, 1))

	expired := q.removeExpired(now.Add(5 * time.Second))
	require.Len(t, expired, 3)
	assert.Same(t, soon, expired[0])
	assert.Same(t, mid, expired[1])
	assert.Same(t, late, expired[2])
	assert.Equal(t, 0, q.len())
}

func TestWaiterQueueRemoveExpiredLeavesFutureDeadlinesParked(t *testing.T) {
	q := newWaiterQueue()
	now := time.Now()

	q.push(now.Add(-time.Second), make(chan leaseResult, 1))
	future := q.push(now.Add(time.Hour), make(chan leaseResult, 1))

	expired := q.removeExpired(now)
	require.Len(t, expired, 1)
	assert.Equal(t, 1, q.len())

	still := q.removeExpired(now.Add(2 * time.Hour))
	require.Len(t, still, 1)
	assert.Same(t, future, still[0])
}

func TestWaiterQueuePopFIFOSkipsAlreadyExpired(t *testing.T) {
	q := newWaiterQueue()
	now := time.Now()

	q.push(now.Add(-time.Second), make(chan leaseResult, 1))
	survivor := q.push(now.Add(time.Hour), make(chan leaseResult, 1))

	expired := q.removeExpired(now)
	require.Len(t, expired, 1)

	assert.Same(t, survivor, q.popFIFO())
	assert.Nil(t, q.popFIFO())
}

func TestWaiterQueueLenTracksTree(t *testing.T) {
	q := newWaiterQueue()
	assert.Equal(t, 0, q.len())
	q.push(time.Now().Add(time.Minute), make(chan leaseResult, 1))
	assert.Equal(t, 1, q.len())
	q.popFIFO()
	assert.Equal(t, 0, q.len())
}
