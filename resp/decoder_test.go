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

package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleString(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("+OK\r\n"))
	v, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NewSimpleString("OK"), v)
}

func TestDecodeEmptySimpleString(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("+\r\n"))
	v, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NewSimpleString(""), v)
}

func TestDecodeFragmentedBulkString(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("$5\r\nhel"))
	_, ok, err := d.Next()
	require.NoError(t, err)
	require.False(t, ok)

	d.Feed([]byte("lo\r\n"))
	v, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NewBulkString([]byte("hello")), v)
}

func TestDecodeNilVsEmptyBulkString(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("$-1\r\n$0\r\n\r\n"))

	v, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.IsNil())

	v, ok, err = d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, v.IsNil())
	assert.Equal(t, []byte{}, v.Bulk)
}

func TestDecodeNestedArray(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("*2\r\n*2\r\n:1\r\n:2\r\n$3\r\nfoo\r\n"))
	v, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)

	want := NewArray(
		NewArray(NewInteger(1), NewInteger(2)),
		NewBulkString([]byte("foo")),
	)
	assert.Equal(t, want, v)
}

func TestDecodeBinarySafeBulkString(t *testing.T) {
	payload := []byte("a\r\nb\x00c")
	d := NewDecoder()
	d.Feed(Encode(NewBulkString(payload)))
	v, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, v.Bulk)
}

func TestDecodeMalformedOverflowInteger(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte(":99999999999999999999\r\n"))
	_, ok, err := d.Next()
	assert.False(t, ok)
	require.Error(t, err)
	var merr *ErrMalformed
	assert.ErrorAs(t, err, &merr)
}

func TestDecodeMalformedNegativeLength(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("$-2\r\n"))
	_, ok, err := d.Next()
	assert.False(t, ok)
	require.Error(t, err)
}

func TestDecodeResumability(t *testing.T) {
	full := append(append([]byte{}, Encode(NewSimpleString("PONG"))...), Encode(NewBulkString([]byte("hi")))...)
	for split := 0; split <= len(full); split++ {
		d := NewDecoder()
		d.Feed(full[:split])
		first, ok1, err1 := d.Next()
		require.NoError(t, err1)

		d.Feed(full[split:])
		var values []Value
		if ok1 {
			values = append(values, first)
		}
		for {
			v, ok, err := d.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			values = append(values, v)
		}
		require.Len(t, values, 2, "split at %d", split)
		assert.Equal(t, NewSimpleString("PONG"), values[0])
		assert.Equal(t, NewBulkString([]byte("hi")), values[1])
	}
}

func TestDecodePipelineOrdering(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("+PONG\r\n$2\r\nhi\r\n"))

	v1, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NewSimpleString("PONG"), v1)

	v2, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, NewBulkString([]byte("hi")), v2)
}
