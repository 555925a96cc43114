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
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{`"warning"`, Warning},
		{`"info"`, Info},
		{`"debug"`, Debug},
		{"0", Warning},
		{"1", Info},
		{"2", Debug},
	} {
		var got Level
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, got, tc.want)
		}
		b, err := json.Marshal(got)
		if err != nil {
			t.Errorf("Marshal(%v) failed: %v", got, err)
		} else if want := `"` + levelNames[got] + `"`; string(b) != want {
			t.Errorf("Marshal(%v) = %s, want %s", got, b, want)
		}
	}
	for _, bad := range []string{"3", `"fatal"`, "{}"} {
		var l Level
		if err := json.Unmarshal([]byte(bad), &l); err == nil {
			t.Errorf("Unmarshal(%s) succeeded with %v", bad, l)
		}
	}
}

func TestJSONEmitters(t *testing.T) {
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	for _, tc := range []struct {
		name    string
		emitter func(*Writer) Emitter
		field   string
	}{
		{"json", func(w *Writer) Emitter { return JSONEmitter{Writer: w} }, "msg"},
		{"k8s", func(w *Writer) Emitter { return K8sJSONEmitter{Writer: w} }, "log"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tw := &testWriter{}
			tc.emitter(&Writer{Next: tw}).Emit(0, Info, ts, "mapped %d pages", 25)

			var got map[string]string
			if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
				t.Fatalf("line %q is not JSON: %v", tw.lines[0], err)
			}
			msg := got[tc.field]
			if !strings.HasPrefix(msg, "json_test.go:") || !strings.HasSuffix(msg, "] mapped 25 pages") {
				t.Errorf("%s = %q", tc.field, msg)
			}
			delete(got, tc.field)
			want := map[string]string{"level": "info", "time": "2026-03-04T05:06:07Z"}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
