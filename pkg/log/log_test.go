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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warningf("shown %d", 3)
	l.SetLevel(Debug)
	l.Debugf("shown %d", 4)

	want := []string{"shown 2", "\n", "shown 3", "\n", "shown 4", "\n"}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestGoogleEmitterHeader(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(0, Warning, ts, "frame %#x", 0x1000)

	got := strings.Join(tw.lines, "")
	if !strings.HasPrefix(got, "W0304 05:06:07.000008 ") {
		t.Errorf("unexpected header in %q", got)
	}
	if !strings.Contains(got, "log_test.go:") {
		t.Errorf("caller missing from %q", got)
	}
	if !strings.HasSuffix(got, "] frame 0x1000\n") {
		t.Errorf("unexpected message in %q", got)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	l := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: &Writer{Next: tw}}, time.Hour)
	for i := 0; i < 10; i++ {
		l.Infof("message %d", i)
	}
	if diff := cmp.Diff([]string{"message 0", "\n"}, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestRateLimitedLoggerCountsSuppressed(t *testing.T) {
	tw := &testWriter{}
	clock := time.Unix(0, 0)
	l := newRateLimitedLogger(&BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}, time.Second, func() time.Time { return clock })
	l.Infof("page %d", 0)
	for i := 1; i < 4; i++ {
		l.Infof("page %d", i)
	}
	// Below the logger's level: neither forwarded nor counted.
	l.Debugf("debug")
	clock = clock.Add(time.Second)
	l.Infof("page %d", 4)
	want := []string{"page 0", "\n", "page 4 (3 similar suppressed)", "\n"}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("unexpected lines (-want +got):\n%s", diff)
	}
}

type fixedPath string

func (p fixedPath) Build(pattern string) string {
	return strings.ReplaceAll(pattern, "%DIR%", string(p))
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenFile("%DIR%/logs/kboot.log", os.O_WRONLY|os.O_CREATE, fixedPath(dir))
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()
	if want := filepath.Join(dir, "logs", "kboot.log"); f.Name() != want {
		t.Errorf("opened %q, want %q", f.Name(), want)
	}
	if f, err := OpenFile("", os.O_RDONLY, fixedPath(dir)); f != nil || err != nil {
		t.Errorf("OpenFile with an empty pattern = (%v, %v), want (nil, nil)", f, err)
	}
}
