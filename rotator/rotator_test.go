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

package rotator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextTargetRoundRobinWithWrap(t *testing.T) {
	r := New([]string{"A", "B", "C"})

	var got []string
	for i := 0; i < 7; i++ {
		target, ok := r.NextTarget()
		assert.True(t, ok)
		got = append(got, target)
	}

	assert.Equal(t, []string{"A", "B", "C", "A", "B", "C", "A"}, got)
}

func TestNextTargetEmpty(t *testing.T) {
	r := New(nil)

	target, ok := r.NextTarget()
	assert.False(t, ok)
	assert.Equal(t, "", target)
}

func TestUpdateResetsCursor(t *testing.T) {
	r := New([]string{"A", "B"})
	_, _ = r.NextTarget()
	_, _ = r.NextTarget()

	r.Update([]string{"X", "Y", "Z"})

	target, ok := r.NextTarget()
	assert.True(t, ok)
	assert.Equal(t, "X", target)
	assert.Equal(t, 3, r.Len())
}

func TestUpdateToEmptyThenNextTarget(t *testing.T) {
	r := New([]string{"A"})
	r.Update(nil)

	target, ok := r.NextTarget()
	assert.False(t, ok)
	assert.Equal(t, "", target)
}
