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

package bootinfo

import (
	"fmt"
	"strings"

	"gvisor.dev/kpaging/pkg/hostarch"
)

// RegionType classifies a physical memory region reported by the bootloader.
type RegionType uint32

// Region types, in the order the bootloader reports them.
const (
	// Usable memory is free for the kernel to allocate.
	Usable RegionType = iota

	// InUse memory is used by something not covered by another type.
	InUse

	// Reserved memory must not be touched.
	Reserved

	// AcpiReclaimable holds ACPI tables that may be reclaimed once parsed.
	AcpiReclaimable

	// AcpiNvs is ACPI non-volatile storage.
	AcpiNvs

	// BadMemory failed firmware checks.
	BadMemory

	// Kernel holds the loaded kernel image.
	Kernel

	// KernelStack holds the boot stack.
	KernelStack

	// PageTable holds page tables built by the bootloader.
	PageTable

	// Bootloader holds bootloader code and data.
	Bootloader

	// FrameZero is the first physical frame, kept unused so that a null
	// physical address is never handed out.
	FrameZero

	// Empty is an unused slot in the bootloader's fixed-size table.
	Empty

	// BootInfoData holds the boot information structure itself.
	BootInfoData

	// Package holds an additional package passed by the bootloader.
	Package

	numRegionTypes
)

var regionTypeNames = [numRegionTypes]string{
	Usable:          "usable",
	InUse:           "in-use",
	Reserved:        "reserved",
	AcpiReclaimable: "acpi-reclaimable",
	AcpiNvs:         "acpi-nvs",
	BadMemory:       "bad-memory",
	Kernel:          "kernel",
	KernelStack:     "kernel-stack",
	PageTable:       "page-table",
	Bootloader:      "bootloader",
	FrameZero:       "frame-zero",
	Empty:           "empty",
	BootInfoData:    "boot-info",
	Package:         "package",
}

// String implements fmt.Stringer.String.
func (t RegionType) String() string {
	if t < numRegionTypes {
		return regionTypeNames[t]
	}
	return fmt.Sprintf("RegionType(%d)", uint32(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t RegionType) MarshalText() ([]byte, error) {
	if t >= numRegionTypes {
		return nil, fmt.Errorf("invalid region type %d", uint32(t))
	}
	return []byte(regionTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RegionType) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range regionTypeNames {
		if n == name {
			*t = RegionType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown region type %q", string(b))
}

// MemoryRegion describes a contiguous physical address range [Start, End).
type MemoryRegion struct {
	Start hostarch.PhysAddr
	End   hostarch.PhysAddr
	Type  RegionType
}

// Length returns the size of the region in bytes.
func (r MemoryRegion) Length() uint64 {
	return uint64(r.End - r.Start)
}

// Contains returns true iff addr lies within the region.
func (r MemoryRegion) Contains(addr hostarch.PhysAddr) bool {
	return r.Start <= addr && addr < r.End
}

// Frames returns the first frame wholly inside the region and the number of
// whole frames starting at it. A region smaller than a frame, or one whose
// bounds leave no aligned frame in between, has no frames.
func (r MemoryRegion) Frames() (first hostarch.Frame, count uint64) {
	start, ok := r.Start.RoundUp()
	if !ok {
		return hostarch.Frame{}, 0
	}
	end := r.End.RoundDown()
	if end <= start {
		return hostarch.Frame{}, 0
	}
	return hostarch.FrameContaining(start), uint64(end-start) >> hostarch.PageShift
}

// String implements fmt.Stringer.String.
func (r MemoryRegion) String() string {
	return fmt.Sprintf("[%#010x - %#010x) %s", uint64(r.Start), uint64(r.End), r.Type)
}
