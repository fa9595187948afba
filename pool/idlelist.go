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

import "github.com/marius-se/redistack/conn"

// idleEntry wraps one idle connection in the intrusive list below.
type idleEntry struct {
	c          *conn.Connection
	next, prev *idleEntry
}

// idleList is an intrusive doubly-linked list of idle connections: front ->
// x -> x -> back, oldest to newest. pushFront/popBack gives LIFO reuse of
// recently-returned connections, the same shape as the teacher's active
// connection list.
type idleList struct {
	front, back *idleEntry
	count       int
}

// pushFront adds c as the newest entry; it is linked at the back, the end
// popBack takes from, so the most recently pushed connection is reused first.
func (l *idleList) pushFront(c *conn.Connection) {
	e := &idleEntry{c: c, prev: l.back}
	if l.count == 0 {
		l.front = e
	} else {
		l.back.next = e
	}
	l.back = e
	l.count++
}

func (l *idleList) popBack() *conn.Connection {
	e := l.back
	if e == nil {
		return nil
	}
	l.count--
	if l.count == 0 {
		l.front, l.back = nil, nil
	} else {
		e.prev.next = nil
		l.back = e.prev
	}
	e.next, e.prev = nil, nil
	return e.c
}

// drain pops every idle connection, applying fn to each in back-to-front
// order.
func (l *idleList) drain(fn func(*conn.Connection)) {
	for c := l.popBack(); c != nil; c = l.popBack() {
		fn(c)
	}
}
