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

package logging

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// event routes a structured log line through the same iWriter/fWriter split
// (and the same nil-logObj stdout fallback) as the Debug/Info/Warn/Error
// family, but carries its payload as fields instead of a formatted string,
// so a log shipper can filter or aggregate on addr, took_ms, etc. without
// parsing message text.
func event(level logrus.Level, msg string, fields logrus.Fields) {
	if logObj == nil {
		fmt.Printf("[%s] %s %v\n", levelTag(level), msg, fields)
		return
	}
	w := logObj.iWriter
	if level == logrus.WarnLevel || level == logrus.ErrorLevel {
		w = logObj.fWriter
	}
	if !w.IsLevelEnabled(level) {
		return
	}
	w.WithFields(fields).Log(level, msg)
}

func levelTag(level logrus.Level) string {
	switch level {
	case logrus.DebugLevel:
		return "DEBUG"
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ConnectionCreated logs a successful dial against addr.
func ConnectionCreated(addr string) {
	event(logrus.DebugLevel, "connection created", logrus.Fields{"addr": addr})
}

// ConnectionFailed logs a dial attempt against addr that ultimately failed
// (backoff exhausted, deadline passed, or no target remained).
func ConnectionFailed(addr string, err error) {
	event(logrus.WarnLevel, "connection create failed", logrus.Fields{"addr": addr, "error": err})
}

// UnexpectedClosure logs a connection that closed without a caller-initiated
// Close: a transport error, a protocol error, or the peer hanging up.
func UnexpectedClosure(addr string) {
	event(logrus.WarnLevel, "connection closed unexpectedly", logrus.Fields{"addr": addr})
}

// LeaseAcquired logs a successful lease with the target address and how
// long the attempt took end to end.
func LeaseAcquired(addr string, took time.Duration) {
	event(logrus.DebugLevel, "lease acquired", logrus.Fields{"addr": addr, "took_ms": took.Milliseconds()})
}

// LeaseTimedOut logs a lease attempt that was abandoned once its deadline
// passed, whether it was parked as a waiter or still mid-creation.
func LeaseTimedOut(overrun time.Duration) {
	event(logrus.WarnLevel, "lease timed out", logrus.Fields{"overrun_ms": overrun.Milliseconds()})
}

// titleSlowLease prefixes slow-lease log lines so the formatter can skip
// caller annotation for them, the same special case the teacher reserves
// for its slow-query log title.
const titleSlowLease = "[SLOWLEASE]"

// SlowLease logs a lease that took longer than the pool's configured
// threshold, carrying addr/took_ms/threshold_ms as fields rather than an
// interpolated string so the formatter's slow-log special case (see
// formatter.go) can render it without caller annotation.
func SlowLease(addr string, tookMillis, thresholdMillis int64) {
	event(logrus.WarnLevel, titleSlowLease, logrus.Fields{
		"addr":         addr,
		"took_ms":      tookMillis,
		"threshold_ms": thresholdMillis,
	})
}

// PubsubPinned logs a connection becoming the pool's single reserved
// pub/sub connection.
func PubsubPinned(addr string) {
	event(logrus.DebugLevel, "pubsub connection pinned", logrus.Fields{"addr": addr})
}

// PubsubUnpinned logs the reserved pub/sub connection returning to ordinary
// circulation once its last subscription drained.
func PubsubUnpinned(addr string) {
	event(logrus.DebugLevel, "pubsub connection unpinned", logrus.Fields{"addr": addr})
}
