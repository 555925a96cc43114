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

package machine

import (
	"fmt"

	"gvisor.dev/kpaging/pkg/bootinfo"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/pagetables"
)

// Fixed physical layout of the low megabyte and the kernel image, as laid out
// by a PC BIOS and the bootloader.
const (
	// lowUsableStart is the first frame after frame zero.
	lowUsableStart = hostarch.PhysAddr(0x1000)

	// biosStart is the start of the extended BIOS data area and ROMs.
	biosStart = hostarch.PhysAddr(0x9f000)

	// extendedStart is the first byte above the low megabyte.
	extendedStart = hostarch.PhysAddr(0x100000)

	// VGABuffer is the physical (and identity mapped virtual) address of
	// the VGA text buffer.
	VGABuffer = hostarch.PhysAddr(0xb8000)

	// vgaSize is the size of the text buffer mapping.
	vgaSize = 0x8000

	// kernelPhys is where the bootloader loads the kernel image.
	kernelPhys = hostarch.PhysAddr(0x400000)
)

// Config describes the machine to build.
type Config struct {
	// RAMSize is the size of physical memory in bytes.
	RAMSize uint64

	// PhysicalMemoryOffset is the virtual address at which all of physical
	// memory is mapped.
	PhysicalMemoryOffset hostarch.Addr

	// KernelSize is the size of the kernel image in bytes.
	KernelSize uint64

	// KernelVirt is the virtual address of the kernel image.
	KernelVirt hostarch.Addr

	// StackSize is the size of the boot stack in bytes.
	StackSize uint64

	// StackVirt is the virtual address of the bottom of the boot stack.
	StackVirt hostarch.Addr

	// TLBEntries is the capacity of the software TLB.
	TLBEntries int
}

// DefaultConfig returns the built-in machine: 16M of RAM with a 2M kernel
// and a 64K stack.
func DefaultConfig() Config {
	return Config{
		RAMSize:              16 << 20,
		PhysicalMemoryOffset: 0x0000100000000000,
		KernelSize:           2 << 20,
		KernelVirt:           0x200000,
		StackSize:            64 << 10,
		StackVirt:            0x0000010000200000,
		TLBEntries:           64,
	}
}

// layout is the physical placement computed from a Config.
type layout struct {
	kernel   bootinfo.MemoryRegion
	stack    bootinfo.MemoryRegion
	bootInfo bootinfo.MemoryRegion

	// pool holds the boot page tables. Frames not used by the tables are
	// returned to the usable pool once the tables are built.
	pool bootinfo.MemoryRegion
}

// tablesFor returns a bound on the number of tables below the root needed to
// map size bytes at an arbitrary page-aligned address.
func tablesFor(size uint64) uint64 {
	pages := (size + hostarch.PageMask) >> hostarch.PageShift
	pts := (pages+511)/512 + 1
	pmds := (pts+511)/512 + 1
	puds := (pmds+511)/512 + 1
	return pts + pmds + puds
}

// poolFrames returns a bound on the number of frames the boot tables of c
// need, including the root.
func (c Config) poolFrames() uint64 {
	return 1 + tablesFor(c.RAMSize) + tablesFor(c.KernelSize) + tablesFor(c.StackSize) + tablesFor(vgaSize)
}

func alignedSize(name string, size uint64) error {
	if size == 0 || size&hostarch.PageMask != 0 {
		return fmt.Errorf("%s size %#x must be a non-zero multiple of %#x", name, size, hostarch.PageSize)
	}
	return nil
}

func alignedVirt(name string, addr hostarch.Addr, size uint64) error {
	if !addr.IsPageAligned() {
		return fmt.Errorf("%s address %v is not page aligned", name, addr)
	}
	end, ok := addr.AddLength(size)
	if !ok || !pagetables.Canonical(addr) || !pagetables.Canonical(end-1) {
		return fmt.Errorf("%s range [%v, +%#x) is not canonical", name, addr, size)
	}
	if addr <= lowerTop && end-1 > lowerTop {
		return fmt.Errorf("%s range [%v, +%#x) crosses the canonical hole", name, addr, size)
	}
	return nil
}

const lowerTop = hostarch.Addr(0x00007fffffffffff)

// validate checks c and computes its layout.
func (c Config) validate() (layout, error) {
	var l layout
	if err := alignedSize("RAM", c.RAMSize); err != nil {
		return l, err
	}
	if err := alignedSize("kernel", c.KernelSize); err != nil {
		return l, err
	}
	if err := alignedSize("stack", c.StackSize); err != nil {
		return l, err
	}
	if c.KernelSize > c.RAMSize || c.StackSize > c.RAMSize {
		return l, fmt.Errorf("kernel (%#x) and stack (%#x) must fit in RAM (%#x)", c.KernelSize, c.StackSize, c.RAMSize)
	}
	if c.TLBEntries <= 0 {
		return l, fmt.Errorf("TLB needs at least one entry, got %d", c.TLBEntries)
	}
	if err := alignedVirt("physical memory offset", c.PhysicalMemoryOffset, c.RAMSize); err != nil {
		return l, err
	}
	if err := alignedVirt("kernel", c.KernelVirt, c.KernelSize); err != nil {
		return l, err
	}
	if err := alignedVirt("stack", c.StackVirt, c.StackSize); err != nil {
		return l, err
	}

	l.kernel = bootinfo.MemoryRegion{Start: kernelPhys, End: kernelPhys + hostarch.PhysAddr(c.KernelSize), Type: bootinfo.Kernel}
	l.stack = bootinfo.MemoryRegion{Start: l.kernel.End, End: l.kernel.End + hostarch.PhysAddr(c.StackSize), Type: bootinfo.KernelStack}
	l.bootInfo = bootinfo.MemoryRegion{Start: l.stack.End, End: l.stack.End + hostarch.PageSize, Type: bootinfo.BootInfoData}
	l.pool = bootinfo.MemoryRegion{Start: l.bootInfo.End, End: l.bootInfo.End + hostarch.PhysAddr(c.poolFrames()<<hostarch.PageShift), Type: bootinfo.PageTable}
	if uint64(l.pool.End) > c.RAMSize {
		return l, fmt.Errorf("RAM size %#x too small: the boot image needs %#x bytes", c.RAMSize, uint64(l.pool.End))
	}
	return l, nil
}

// memoryMap returns the boot memory map once tables frames of the pool are
// in use.
func (l layout) memoryMap(ramSize uint64, tables uint64) []bootinfo.MemoryRegion {
	used := l.pool.Start + hostarch.PhysAddr(tables<<hostarch.PageShift)
	regions := []bootinfo.MemoryRegion{
		{Start: 0, End: lowUsableStart, Type: bootinfo.FrameZero},
		{Start: lowUsableStart, End: biosStart, Type: bootinfo.Usable},
		{Start: biosStart, End: extendedStart, Type: bootinfo.Reserved},
		{Start: extendedStart, End: kernelPhys, Type: bootinfo.Usable},
		l.kernel,
		l.stack,
		l.bootInfo,
		{Start: l.pool.Start, End: used, Type: bootinfo.PageTable},
	}
	if uint64(used) < ramSize {
		regions = append(regions, bootinfo.MemoryRegion{Start: used, End: hostarch.PhysAddr(ramSize), Type: bootinfo.Usable})
	}
	return regions
}
