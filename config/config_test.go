// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "redistack.yaml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	return p
}

func TestLoadConfigValid(t *testing.T) {
	p := writeConfig(t, `
log_level: INFO
redis:
  addresses: ["127.0.0.1:6379", "127.0.0.1:6380"]
  max_connections: 10
  min_connections: 2
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:6379", "127.0.0.1:6380"}, cfg.Redis.Addresses)
	assert.Equal(t, 10, cfg.Redis.MaxConnections)
}

func TestLoadConfigRejectsUnknownLogLevel(t *testing.T) {
	p := writeConfig(t, `
log_level: TRACE
redis:
  addresses: ["127.0.0.1:6379"]
  max_connections: 1
`)
	_, err := LoadConfig(p)
	assert.Error(t, err)
}

func TestLoadConfigRequiresAddressesOrFile(t *testing.T) {
	p := writeConfig(t, `
redis:
  max_connections: 1
`)
	_, err := LoadConfig(p)
	assert.Error(t, err)
}

func TestLoadConfigRequiresMaxConnections(t *testing.T) {
	p := writeConfig(t, `
redis:
  addresses: ["127.0.0.1:6379"]
`)
	_, err := LoadConfig(p)
	assert.Error(t, err)
}

func TestPoolConfigTranslation(t *testing.T) {
	p := writeConfig(t, `
redis:
  addresses: ["127.0.0.1:6379"]
  max_connections: 5
  leaky: true
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	pc := cfg.PoolConfig()
	assert.Equal(t, 5, pc.MaxConnections.N)
	assert.Equal(t, 1, int(pc.MaxConnections.Kind)) // MaxConnectionLeaky == 1
}
