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
	"encoding/json"
	"fmt"
	"time"
)

// levelNames are the JSON names of each Level, indexed by level.
var levelNames = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return json.Marshal(levelNames[l])
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts both
// the level name and its number.
func (l *Level) UnmarshalJSON(b []byte) error {
	var n uint32
	if err := json.Unmarshal(b, &n); err == nil {
		if int(n) >= len(levelNames) {
			return fmt.Errorf("unknown level %d", n)
		}
		*l = Level(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("unknown level %s", b)
	}
	for i, s := range levelNames {
		if s == name {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", name)
}

// jsonRecord is one JSON log line. Exactly one of Msg and Log is set,
// depending on the emitter.
type jsonRecord struct {
	Msg   string    `json:"msg,omitempty"`
	Log   string    `json:"log,omitempty"`
	Level Level     `json:"level"`
	Time  time.Time `json:"time"`
}

// emitJSON writes the record for one message to w. The message is prefixed
// with the "file:line] " of the caller depth frames above the emitter.
func emitJSON(w *Writer, k8s bool, depth int, level Level, timestamp time.Time, format string, v []any) {
	file, line := caller(depth + 1)
	msg := fmt.Sprintf("%s:%d] %s", file, line, fmt.Sprintf(format, v...))
	r := jsonRecord{Level: level, Time: timestamp}
	if k8s {
		r.Log = msg
	} else {
		r.Msg = msg
	}
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	w.Write(b)
}

// JSONEmitter logs messages in json format.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	emitJSON(e.Writer, false, depth, level, timestamp, format, v)
}

// K8sJSONEmitter logs messages in json format that is compatible with
// Kubernetes fluent configuration.
type K8sJSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e K8sJSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	emitJSON(e.Writer, true, depth, level, timestamp, format, v)
}
