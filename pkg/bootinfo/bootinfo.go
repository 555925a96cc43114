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

// Package bootinfo holds the information the bootloader hands to the kernel:
// the physical memory map and the virtual offset at which all of physical
// memory is mapped.
//
// A MemoryMap is built once before paging is initialized and is never
// mutated afterwards.
package bootinfo

import (
	"fmt"
	"sort"

	"github.com/google/btree"
	"github.com/mohae/deepcopy"
	"gvisor.dev/kpaging/pkg/hostarch"
)

// BootInfo is the boot-time contract between the bootloader and the kernel.
type BootInfo struct {
	// PhysicalMemoryOffset is the virtual address at which physical address
	// zero is mapped. All of physical memory is mapped linearly from there.
	PhysicalMemoryOffset hostarch.Addr

	// MemoryMap describes physical memory.
	MemoryMap *MemoryMap
}

// MemoryMap is an immutable, ordered list of physical memory regions.
type MemoryMap struct {
	// regions is in bootloader order. It is never modified after
	// NewMemoryMap returns.
	regions []MemoryRegion

	// index orders the non-empty regions by start address for Lookup.
	index *btree.BTreeG[MemoryRegion]
}

// btreeDegree is the degree of the lookup index. Memory maps hold tens of
// entries, so a small degree is plenty.
const btreeDegree = 8

func regionLess(a, b MemoryRegion) bool {
	return a.Start < b.Start
}

// NewMemoryMap returns a MemoryMap over a private copy of regions.
//
// Regions are kept in the given order. Regions must not be inverted and
// non-empty regions must not overlap, since overlapping usable regions would
// hand out the same frame twice.
func NewMemoryMap(regions []MemoryRegion) (*MemoryMap, error) {
	m := &MemoryMap{
		index: btree.NewG(btreeDegree, regionLess),
	}
	if len(regions) == 0 {
		return m, nil
	}
	m.regions = deepcopy.Copy(regions).([]MemoryRegion)

	sorted := make([]MemoryRegion, 0, len(m.regions))
	for i, r := range m.regions {
		if r.End < r.Start {
			return nil, fmt.Errorf("region %d %v: end before start", i, r)
		}
		if r.Start == r.End {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return nil, fmt.Errorf("region %v overlaps %v", sorted[i], sorted[i-1])
		}
	}
	for _, r := range sorted {
		m.index.ReplaceOrInsert(r)
	}
	return m, nil
}

// Len returns the number of regions, including empty ones.
func (m *MemoryMap) Len() int {
	return len(m.regions)
}

// Region returns the i-th region in bootloader order.
func (m *MemoryMap) Region(i int) MemoryRegion {
	return m.regions[i]
}

// Regions returns a copy of all regions in bootloader order.
func (m *MemoryMap) Regions() []MemoryRegion {
	return append([]MemoryRegion(nil), m.regions...)
}

// Lookup returns the region containing addr.
func (m *MemoryMap) Lookup(addr hostarch.PhysAddr) (MemoryRegion, bool) {
	var (
		found MemoryRegion
		ok    bool
	)
	m.index.DescendLessOrEqual(MemoryRegion{Start: addr}, func(r MemoryRegion) bool {
		found, ok = r, r.Contains(addr)
		return false
	})
	return found, ok
}

// UsableFrames returns the number of whole frames in usable regions.
func (m *MemoryMap) UsableFrames() uint64 {
	var n uint64
	for _, r := range m.regions {
		if r.Type != Usable {
			continue
		}
		_, count := r.Frames()
		n += count
	}
	return n
}

// UsableBytes returns the total size of usable regions.
func (m *MemoryMap) UsableBytes() uint64 {
	var n uint64
	for _, r := range m.regions {
		if r.Type == Usable {
			n += r.Length()
		}
	}
	return n
}

// End returns the highest physical address described by the map.
func (m *MemoryMap) End() hostarch.PhysAddr {
	var end hostarch.PhysAddr
	for _, r := range m.regions {
		if r.End > end {
			end = r.End
		}
	}
	return end
}
