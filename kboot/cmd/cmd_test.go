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

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"
	"gvisor.dev/kpaging/kboot/config"
	"gvisor.dev/kpaging/pkg/hostarch"
)

func defaultConfig() *config.Config {
	return &config.Config{LogFormat: config.LogFormatText}
}

func TestBoot(t *testing.T) {
	var out bytes.Buffer
	if err := new(Boot).run(defaultConfig(), &out); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"physical memory offset: 0x100000000000\n",
		"0xb8000 -> 0xb8000 (rw- UC)\n",
		"0x201008 -> 0x401008 (rwx WB global)\n",
		"0x10000201a10 -> 0x601a10 (rw- WB)\n",
		"0x100000000000 -> 0x0 (rw- WB global)\n",
		"New!",
		"heap: [0x444444440000, 0x444444459000) 100 KiB\n",
		"holds 41",
		"sums to 124750",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("boot output lacks %q:\n%s", want, got)
		}
	}
}

func TestBootSkipHeap(t *testing.T) {
	var out bytes.Buffer
	if err := (&Boot{skipHeap: true}).run(defaultConfig(), &out); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	if strings.Contains(out.String(), "heap:") {
		t.Errorf("heap initialized despite skip-heap:\n%s", out.String())
	}
	// The example mapping needs three tables and nothing else.
	if !strings.Contains(out.String(), "frames: 3 allocated") {
		t.Errorf("unexpected frame usage:\n%s", out.String())
	}
}

func TestTranslate(t *testing.T) {
	addrs, err := parseAddrs([]string{"0xb8123", "0x444444440010", "4096"})
	if err != nil {
		t.Fatalf("parseAddrs failed: %v", err)
	}
	if diff := cmp.Diff([]hostarch.Addr{0xb8123, 0x444444440010, 0x1000}, addrs); diff != "" {
		t.Errorf("parseAddrs mismatch (-want +got):\n%s", diff)
	}

	var out bytes.Buffer
	if err := (&Translate{withHeap: true}).run(defaultConfig(), addrs, &out); err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out.String())
	}
	if lines[0] != "0xb8123 -> 0xb8123 (rw- UC)" {
		t.Errorf("VGA translation = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0x444444440010 -> ") || !strings.HasSuffix(lines[1], "(rw- WB)") {
		t.Errorf("heap translation = %q", lines[1])
	}
	if lines[2] != "0x1000 -> none" {
		t.Errorf("unmapped translation = %q", lines[2])
	}

	if _, err := parseAddrs([]string{"nowhere"}); err == nil {
		t.Errorf("parseAddrs accepted a bad address")
	}
}

func TestRegions(t *testing.T) {
	var out bytes.Buffer
	if err := (&Regions{format: "text"}).run(defaultConfig(), &out); err != nil {
		t.Fatalf("regions failed: %v", err)
	}
	for _, want := range []string{"START", "frame-zero", "kernel-stack", "page-table", "usable: "} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("regions output lacks %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := (&Regions{format: "yaml"}).run(defaultConfig(), &out); err != nil {
		t.Fatalf("regions failed: %v", err)
	}
	var doc yamlMemoryMap
	if err := yaml.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out.String())
	}
	if len(doc.Regions) != 9 || doc.Regions[4].Start != "0x400000" || doc.Regions[4].Type.String() != "kernel" {
		t.Errorf("unexpected YAML memory map: %+v", doc)
	}

	if err := (&Regions{format: "xml"}).run(defaultConfig(), &out); err == nil {
		t.Errorf("regions accepted format xml")
	}
}

func TestBootBadMachine(t *testing.T) {
	conf := defaultConfig()
	conf.MachineFile = "does-not-exist.toml"
	if err := new(Boot).run(conf, new(bytes.Buffer)); err == nil {
		t.Errorf("boot succeeded without a machine file")
	}
}

func TestBootMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")
	b := &Boot{skipHeap: true, metrics: path}
	if err := b.run(defaultConfig(), new(bytes.Buffer)); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("metrics file missing: %v", err)
	}
	defer f.Close()
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		t.Fatalf("metrics do not parse: %v", err)
	}

	value := func(name, label, want string) float64 {
		t.Helper()
		fam, ok := families[name]
		if !ok {
			t.Fatalf("metric %s missing", name)
		}
		for _, m := range fam.GetMetric() {
			matched := label == ""
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == want {
					matched = true
				}
			}
			if !matched {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
		t.Fatalf("metric %s{%s=%q} missing", name, label, want)
		return 0
	}

	got := map[string]float64{
		"frames":   value("kboot_frames_allocated_total", "", ""),
		"mapped":   value("kboot_map_calls_total", "result", "mapped"),
		"conflict": value("kboot_map_calls_total", "result", "already_mapped"),
		"tables":   value("kboot_tables_created_total", "", ""),
		"boot":     value("kboot_boot_tables", "", ""),
		"kernel":   value("kboot_memory_bytes", "type", "kernel"),
	}
	want := map[string]float64{
		"frames":   3,
		"mapped":   1,
		"conflict": 0,
		"tables":   3,
		"boot":     18,
		"kernel":   2 << 20,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
	if got := value("kboot_tlb_events_total", "event", "miss"); got < 1 {
		t.Errorf("no TLB misses recorded after writing through a new mapping")
	}
}
