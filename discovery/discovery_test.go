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

package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAddresses(t *testing.T, path string, addrs []string) {
	t.Helper()
	body := "addresses:\n"
	for _, a := range addrs {
		body += "  - \"" + a + "\"\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestWatchDeliversInitialAddresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addrs.yaml")
	writeAddresses(t, path, []string{"10.0.0.1:6379", "10.0.0.2:6379"})

	got := make(chan []string, 1)
	w, err := Watch(path, func(addrs []string) { got <- addrs })
	require.NoError(t, err)
	require.NotNil(t, w)

	select {
	case received := <-got:
		assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, received)
	case <-time.After(time.Second):
		t.Fatal("onChange never called for initial load")
	}
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addrs.yaml")
	writeAddresses(t, path, []string{"10.0.0.1:6379"})

	changes := make(chan []string, 4)
	_, err := Watch(path, func(addrs []string) { changes <- addrs })
	require.NoError(t, err)

	select {
	case first := <-changes:
		assert.Equal(t, []string{"10.0.0.1:6379"}, first)
	case <-time.After(time.Second):
		t.Fatal("initial onChange never fired")
	}

	writeAddresses(t, path, []string{"10.0.0.1:6379", "10.0.0.3:6379"})

	select {
	case updated := <-changes:
		assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.3:6379"}, updated)
	case <-time.After(5 * time.Second):
		t.Fatal("onChange never fired after file update")
	}
}

func TestWatcherChangedDedupesIdenticalSets(t *testing.T) {
	w := &Watcher{seen: &hashmap.HashMap{}}
	assert.True(t, w.changed([]string{"a:1", "b:2"}))
	assert.False(t, w.changed([]string{"a:1", "b:2"}))
	assert.False(t, w.changed([]string{"b:2", "a:1"}))
	assert.True(t, w.changed([]string{"a:1"}))
}
