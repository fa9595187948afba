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

// Package discovery hot-reloads a pool's address list from a YAML file,
// watched with fsnotify, the same way the teacher's authip package
// hot-reloads an IP allow-list: watch the containing directory for the
// specific file's write/rename/create events, re-parse on change, and push the
// result to a callback.
package discovery

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/marius-se/redistack/logging"
)

// addressFile is the on-disk shape a Watcher parses.
type addressFile struct {
	Addresses []string `yaml:"addresses"`
}

// Watcher watches one YAML file and calls OnChange whenever its address list
// changes, deduplicated against the last-seen set.
type Watcher struct {
	dir  string
	name string

	onChange func(addresses []string)

	mu   sync.Mutex
	seen *hashmap.HashMap
}

// Watch parses path once, invokes onChange with the initial address list,
// then starts a background fsnotify watch on path's containing directory.
// Only write/rename/create events for the exact file are acted on, matching
// the teacher's watchYml filter.
func Watch(path string, onChange func(addresses []string)) (*Watcher, error) {
	w := &Watcher{
		dir:      filepath.Dir(path),
		name:     path,
		onChange: onChange,
		seen:     &hashmap.HashMap{},
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	if err := w.watch(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watcher) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(err, "discovery: new watcher for %s", w.dir)
	}
	if err := watcher.Add(w.dir); err != nil {
		return errors.Wrapf(err, "discovery: watch %s", w.dir)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != w.name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
					continue
				}
				if err := w.reload(); err != nil {
					logging.Errorf("discovery: reload %s: %s", w.name, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Errorf("discovery: watcher error: %s", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) reload() error {
	file, err := os.ReadFile(w.name)
	if err != nil {
		return errors.Wrapf(err, "discovery: read %s", w.name)
	}
	var parsed addressFile
	if err := yaml.Unmarshal(file, &parsed); err != nil {
		return errors.Wrapf(err, "discovery: unmarshal %s", w.name)
	}

	if !w.changed(parsed.Addresses) {
		return nil
	}
	w.onChange(parsed.Addresses)
	return nil
}

// changed reports whether addresses differs from the last set this Watcher
// delivered, rebuilding its dedup map (via a fresh hashmap.HashMap, since
// cornelk/hashmap has no bulk-clear) each time it does.
func (w *Watcher) changed(addresses []string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := &hashmap.HashMap{}
	for _, addr := range addresses {
		next.Set(addr, struct{}{})
	}

	if next.Len() == w.seen.Len() {
		same := true
		next.Range(func(key, _ interface{}) bool {
			if _, ok := w.seen.Get(key); !ok {
				same = false
				return false
			}
			return true
		})
		if same {
			return false
		}
	}

	w.seen = next
	return true
}
