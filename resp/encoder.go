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
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Encode formats v as RESP bytes. It is the inverse of the decoder: for
// every Value the decoder can produce, Encode(v) round-trips through
// NewDecoder().Feed(Encode(v)).Next().
func Encode(v Value) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	writeValue(bb, v)
	out := make([]byte, bb.Len())
	copy(out, bb.Bytes())
	return out
}

func writeValue(bb *bytebufferpool.ByteBuffer, v Value) {
	switch v.Type {
	case SimpleString:
		bb.WriteByte('+')
		bb.WriteString(v.Str)
		bb.WriteString("\r\n")
	case Error:
		bb.WriteByte('-')
		bb.WriteString(v.Str)
		bb.WriteString("\r\n")
	case Integer:
		bb.WriteByte(':')
		bb.WriteString(strconv.FormatInt(v.Int, 10))
		bb.WriteString("\r\n")
	case BulkString:
		if v.Bulk == nil {
			bb.WriteString("$-1\r\n")
			return
		}
		bb.WriteByte('$')
		bb.WriteString(strconv.Itoa(len(v.Bulk)))
		bb.WriteString("\r\n")
		bb.Write(v.Bulk)
		bb.WriteString("\r\n")
	case Array:
		if v.Items == nil {
			bb.WriteString("*-1\r\n")
			return
		}
		bb.WriteByte('*')
		bb.WriteString(strconv.Itoa(len(v.Items)))
		bb.WriteString("\r\n")
		for _, item := range v.Items {
			writeValue(bb, item)
		}
	}
}

// EncodeCommand is a convenience for the only shape a client ever writes:
// an Array of BulkStrings built from a command name and its arguments.
func EncodeCommand(cmd string, args ...[]byte) []byte {
	return Encode(BuildCommand(cmd, args...))
}
