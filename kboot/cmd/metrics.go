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
	"fmt"
	"io"
	"os"
	"slices"

	"gvisor.dev/kpaging/pkg/bootinfo"
	"gvisor.dev/kpaging/pkg/pgalloc"
	"gvisor.dev/kpaging/pkg/prometheus"
)

// metricsPrefix is prepended to every exported metric name.
const metricsPrefix = "kboot_"

var (
	memoryBytesMetric = &prometheus.Metric{
		Name: "memory_bytes",
		Type: prometheus.TypeGauge,
		Help: "Bytes of physical memory by region type.",
	}
	bootTablesMetric = &prometheus.Metric{
		Name: "boot_tables",
		Type: prometheus.TypeGauge,
		Help: "Frames used by the page tables built at boot.",
	}
	framesAllocatedMetric = &prometheus.Metric{
		Name: "frames_allocated_total",
		Type: prometheus.TypeCounter,
		Help: "Frames handed out by the frame allocator.",
	}
	framesRemainingMetric = &prometheus.Metric{
		Name: "frames_remaining",
		Type: prometheus.TypeGauge,
		Help: "Usable frames not yet handed out.",
	}
	mapCallsMetric = &prometheus.Metric{
		Name: "map_calls_total",
		Type: prometheus.TypeCounter,
		Help: "Map calls by outcome.",
	}
	tablesCreatedMetric = &prometheus.Metric{
		Name: "tables_created_total",
		Type: prometheus.TypeCounter,
		Help: "Page tables allocated by Map.",
	}
	tlbEventsMetric = &prometheus.Metric{
		Name: "tlb_events_total",
		Type: prometheus.TypeCounter,
		Help: "TLB lookups and invalidations.",
	}
)

// pagingSnapshot collects the counters of a booted session.
func pagingSnapshot(s *session, alloc *pgalloc.BootInfoAllocator) *prometheus.Snapshot {
	snap := prometheus.NewSnapshot()

	bytesByType := make(map[bootinfo.RegionType]uint64)
	for _, r := range s.machine.BootInfo().MemoryMap.Regions() {
		bytesByType[r.Type] += r.Length()
	}
	types := make([]bootinfo.RegionType, 0, len(bytesByType))
	for t := range bytesByType {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		snap.Add(prometheus.LabeledData(memoryBytesMetric, map[string]string{"type": t.String()}, bytesByType[t]))
	}

	snap.Add(
		prometheus.NewData(bootTablesMetric, s.machine.BootTables()),
		prometheus.NewData(framesAllocatedMetric, alloc.Allocated()),
		prometheus.NewData(framesRemainingMetric, alloc.Remaining()),
	)

	ms := s.mapper.Stats()
	snap.Add(
		prometheus.LabeledData(mapCallsMetric, map[string]string{"result": "mapped"}, ms.Mapped),
		prometheus.LabeledData(mapCallsMetric, map[string]string{"result": "already_mapped"}, ms.Conflicts),
		prometheus.LabeledData(mapCallsMetric, map[string]string{"result": "allocation_failed"}, ms.AllocationFailures),
		prometheus.NewData(tablesCreatedMetric, ms.Tables),
	)

	hits, misses, invalidations := s.machine.CPU().Stats()
	snap.Add(
		prometheus.LabeledData(tlbEventsMetric, map[string]string{"event": "hit"}, hits),
		prometheus.LabeledData(tlbEventsMetric, map[string]string{"event": "miss"}, misses),
		prometheus.LabeledData(tlbEventsMetric, map[string]string{"event": "invalidation"}, invalidations),
	)
	return snap
}

// writeMetrics writes the session's counters to path, or to out if path is
// "-".
func writeMetrics(path string, out io.Writer, s *session, alloc *pgalloc.BootInfoAllocator) error {
	w := out
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating metrics file: %w", err)
		}
		defer f.Close()
		w = f
	}
	opts := prometheus.ExportOptions{
		CommentHeader:  "kboot paging counters",
		ExporterPrefix: metricsPrefix,
	}
	if _, err := prometheus.Write(w, opts, pagingSnapshot(s, alloc)); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
