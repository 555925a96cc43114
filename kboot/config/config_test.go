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

package config

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kpaging/pkg/machine"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	if c.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want %q", c.LogFormat, LogFormatText)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"--debug", "--log-format=json", "--machine=m.toml"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{Debug: true, LogFormat: LogFormatJSON, MachineFile: "m.toml"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"--log-format=json", "--debug=true", "--machine=m.toml"}, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidLogFormat(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Lookup("log-format").Value.Set("xml"); err != nil {
		t.Fatalf("Flag set: %v", err)
	}
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags accepted log format xml")
	}
}

func TestSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Size
		text string
	}{
		{"4096", 4096, "4K"},
		{"0x1000", 4096, "4K"},
		{"100K", 100 << 10, "100K"},
		{"16M", 16 << 20, "16M"},
		{"2g", 2 << 30, "2G"},
		{"1000", 1000, "1000"},
		{"0", 0, "0"},
	} {
		var s Size
		if err := s.UnmarshalText([]byte(tc.in)); err != nil {
			t.Errorf("UnmarshalText(%q) failed: %v", tc.in, err)
			continue
		}
		if s != tc.want {
			t.Errorf("UnmarshalText(%q) = %d, want %d", tc.in, s, tc.want)
		}
		if text, _ := s.MarshalText(); string(text) != tc.text {
			t.Errorf("MarshalText(%d) = %q, want %q", s, text, tc.text)
		}
	}
	for _, bad := range []string{"", "M", "12Q", "-1", "99999999999999999999G"} {
		var s Size
		if err := s.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("UnmarshalText(%q) = %d, want error", bad, s)
		}
	}
}

func TestLoadMachineDefault(t *testing.T) {
	m, err := LoadMachine("")
	if err != nil {
		t.Fatalf("LoadMachine failed: %v", err)
	}
	if diff := cmp.Diff(DefaultMachine(), m); diff != "" {
		t.Errorf("machine mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMachineFormats(t *testing.T) {
	want := DefaultMachine()
	want.RAM = 64 << 20
	want.PhysicalMemoryOffset = 0xffff800000000000
	want.TLBEntries = 16
	want.Kernel = Range{Start: 0x200000, Size: 4 << 20}
	want.Heap = Range{Start: 0x444444440000, Size: 256 << 10}

	for _, name := range []string{"large.toml", "large.yaml"} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadMachine(filepath.Join("testdata", name))
			if err != nil {
				t.Fatalf("LoadMachine failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("machine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadMachineErrors(t *testing.T) {
	for _, path := range []string{
		filepath.Join("testdata", "unknown.toml"),
		filepath.Join("testdata", "missing.toml"),
	} {
		if _, err := LoadMachine(path); err == nil {
			t.Errorf("LoadMachine(%q) succeeded", path)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	m := DefaultMachine()
	m.PhysicalMemoryOffset = 0xffff800000000000
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := LoadMachine(path)
	if err != nil {
		t.Fatalf("LoadMachine failed: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineConfig(t *testing.T) {
	c := DefaultMachine().MachineConfig()
	if diff := cmp.Diff(machine.DefaultConfig(), c); diff != "" {
		t.Errorf("MachineConfig mismatch (-want +got):\n%s", diff)
	}
}
