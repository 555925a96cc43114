// Copyright 2026 The gVisor Authors.
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

package log

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger forwards at most one message per interval and reports how
// many were dropped in between.
type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter

	// now is the clock the limiter is consulted with.
	now func() time.Time

	// suppressed counts messages dropped since the last one forwarded.
	suppressed atomic.Uint64
}

// allow returns the message to forward, or false if it must be dropped.
func (rl *rateLimitedLogger) allow(format string, v []any) (string, bool) {
	if !rl.limit.AllowN(rl.now(), 1) {
		rl.suppressed.Add(1)
		return "", false
	}
	msg := fmt.Sprintf(format, v...)
	if n := rl.suppressed.Swap(0); n > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, n)
	}
	return msg, true
}

func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if !rl.logger.IsLogging(Debug) {
		return
	}
	if msg, ok := rl.allow(format, v); ok {
		rl.logger.Debugf("%s", msg)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if msg, ok := rl.allow(format, v); ok {
		rl.logger.Infof("%s", msg)
	}
}

func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if msg, ok := rl.allow(format, v); ok {
		rl.logger.Warningf("%s", msg)
	}
}

func (rl *rateLimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger no
// more than once per the provided duration.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to the provided logger no more
// than once per the provided duration. A forwarded message notes how many
// were dropped before it.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return newRateLimitedLogger(logger, every, time.Now)
}

func newRateLimitedLogger(logger Logger, every time.Duration, now func() time.Time) *rateLimitedLogger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
		now:    now,
	}
}
