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

// Package rotator holds the ordered target-address list the connection
// factory draws from, cycling through it round-robin.
package rotator

import "sync"

// Rotator is safe for concurrent use: Update may run concurrently with
// NextTarget (e.g. a discovery watcher reloading addresses while the pool is
// dialing).
type Rotator struct {
	mu      sync.Mutex
	targets []string
	cursor  int
}

// New builds a Rotator seeded with a copy of initial; later changes to
// initial do not affect the Rotator.
func New(initial []string) *Rotator {
	r := &Rotator{}
	r.Update(initial)
	return r
}

// NextTarget returns the address at the cursor and advances it, wrapping at
// the end of the list. It returns "", false if the list is empty, resetting
// the cursor to the start.
func (r *Rotator) NextTarget() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.targets) == 0 {
		r.cursor = 0
		return "", false
	}

	t := r.targets[r.cursor]
	r.cursor++
	if r.cursor >= len(r.targets) {
		r.cursor = 0
	}
	return t, true
}

// Update replaces the target list and resets the cursor to the start. It is
// the sole mutation this type exposes: round-robin with wrap, no weights, no
// health-awareness.
func (r *Rotator) Update(addresses []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(addresses))
	copy(cp, addresses)
	r.targets = cp
	r.cursor = 0
}

// Len reports the current number of targets.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}
