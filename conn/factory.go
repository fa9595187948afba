// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2012 Gary Burd
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

package conn

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// FactoryOption configures Dial, mirroring the functional-options style used
// throughout this module.
type FactoryOption struct {
	f func(*factoryOptions)
}

type factoryOptions struct {
	dialer          *net.Dialer
	connectTimeout  time.Duration
	password        string
	initialDatabase int
	hasDatabase     bool
}

// WithConnectTimeout bounds the TCP handshake.
func WithConnectTimeout(d time.Duration) FactoryOption {
	return FactoryOption{func(o *factoryOptions) { o.connectTimeout = d }}
}

// WithPassword causes Dial to issue AUTH immediately after connecting.
func WithPassword(password string) FactoryOption {
	return FactoryOption{func(o *factoryOptions) { o.password = password }}
}

// WithInitialDatabase causes Dial to issue SELECT immediately after AUTH (or
// after connecting, if no password is configured).
func WithInitialDatabase(db int) FactoryOption {
	return FactoryOption{func(o *factoryOptions) {
		o.initialDatabase = db
		o.hasDatabase = true
	}}
}

// Dial opens a TCP connection to address, installs the RESP codec and
// pipeline, and optionally authenticates and selects a database before
// returning. The returned Connection has AllowSubscriptions false and no
// onUnexpectedClosure hook installed; callers (the pool) should call
// SetOnUnexpectedClosure before the connection is handed out.
func Dial(ctx context.Context, address string, opts ...FactoryOption) (*Connection, error) {
	o := factoryOptions{
		dialer:         &net.Dialer{KeepAlive: 5 * time.Minute},
		connectTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt.f(&o)
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	netConn, err := o.dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "conn: dial %s", address)
	}

	c := New(netConn)

	if o.password != "" {
		if _, err := awaitCommand(ctx, c, "AUTH", []byte(o.password)); err != nil {
			_ = c.Close(ctx)
			return nil, errors.Wrapf(err, "conn: AUTH against %s", address)
		}
	}
	if o.hasDatabase {
		if _, err := awaitCommand(ctx, c, "SELECT", []byte(strconv.Itoa(o.initialDatabase))); err != nil {
			_ = c.Close(ctx)
			return nil, errors.Wrapf(err, "conn: SELECT %d against %s", o.initialDatabase, address)
		}
	}

	return c, nil
}

func awaitCommand(ctx context.Context, c *Connection, cmd string, args ...[]byte) (interface{}, error) {
	f, err := c.Send(cmd, args...)
	if err != nil {
		return nil, err
	}
	v, err := f.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}
