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

// Package machine emulates the hardware and bootloader that the paging core
// runs on.
//
// A Machine owns host-backed physical memory, lays out a PC-style memory map,
// loads a (blank) kernel image and builds the boot page tables: the VGA text
// buffer identity mapped, the kernel image and stack at their link
// addresses, and all of physical memory at the physical memory offset. The
// tables are built with the same mapper the kernel later uses, drawing frames
// from a dedicated pool.
package machine

import (
	"fmt"
	"strings"

	"gvisor.dev/kpaging/pkg/bootinfo"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/log"
	"gvisor.dev/kpaging/pkg/pagetables"
	"gvisor.dev/kpaging/pkg/pgalloc"
	"gvisor.dev/kpaging/pkg/physmem"
)

// VGA text mode geometry.
const (
	VGAColumns = 80
	VGARows    = 25
)

// Machine is an emulated single-core machine after the bootloader ran.
type Machine struct {
	config Config
	ram    *physmem.RAM
	window *physmem.Window
	cpu    *CPU
	info   bootinfo.BootInfo

	// tables is the number of boot page table frames, including the root.
	tables uint64
}

// New builds and boots a machine.
func New(c Config) (*Machine, error) {
	l, err := c.validate()
	if err != nil {
		return nil, err
	}
	ram, err := physmem.NewRAM(c.RAMSize)
	if err != nil {
		return nil, err
	}
	m, err := boot(c, l, ram)
	if err != nil {
		ram.Close()
		return nil, err
	}
	return m, nil
}

func boot(c Config, l layout, ram *physmem.RAM) (*Machine, error) {
	w, err := ram.Window(c.PhysicalMemoryOffset)
	if err != nil {
		return nil, err
	}
	cpu := newCPU(w, c.TLBEntries)

	poolMap, err := bootinfo.NewMemoryMap([]bootinfo.MemoryRegion{{Start: l.pool.Start, End: l.pool.End, Type: bootinfo.Usable}})
	if err != nil {
		return nil, err
	}
	pool := pgalloc.NewBootInfoAllocator(poolMap)
	root, ok := pool.AllocateFrame()
	if !ok {
		return nil, fmt.Errorf("no frame for the root page table")
	}
	if err := w.Zero(root.Start(), hostarch.PageSize); err != nil {
		return nil, err
	}
	cpu.LoadCR3(uint64(root.Start()))

	mapper, err := pagetables.Init(cpu, w)
	if err != nil {
		return nil, err
	}
	defer mapper.Release()

	mappings := []struct {
		name string
		virt hostarch.Addr
		phys hostarch.PhysAddr
		size uint64
		opts pagetables.MapOpts
	}{
		{"vga", hostarch.Addr(VGABuffer), VGABuffer, vgaSize, pagetables.MapOpts{
			AccessType: hostarch.ReadWrite,
			MemoryType: hostarch.MemoryTypeUncached,
		}},
		{"kernel", c.KernelVirt, l.kernel.Start, c.KernelSize, pagetables.MapOpts{
			AccessType: hostarch.AnyAccess,
			Global:     true,
		}},
		{"stack", c.StackVirt, l.stack.Start, c.StackSize, pagetables.MapOpts{
			AccessType: hostarch.ReadWrite,
		}},
		{"physical memory", c.PhysicalMemoryOffset, 0, c.RAMSize, pagetables.MapOpts{
			AccessType: hostarch.ReadWrite,
			Global:     true,
		}},
	}
	for _, mp := range mappings {
		if err := mapRange(mapper, pool, mp.virt, mp.phys, mp.size, mp.opts); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", mp.name, err)
		}
		log.Debugf("machine: mapped %s [%v, +%#x) -> %v %v", mp.name, mp.virt, mp.size, mp.phys, mp.opts)
	}

	memoryMap, err := bootinfo.NewMemoryMap(l.memoryMap(c.RAMSize, pool.Allocated()))
	if err != nil {
		return nil, err
	}
	m := &Machine{
		config: c,
		ram:    ram,
		window: w,
		cpu:    cpu,
		info: bootinfo.BootInfo{
			PhysicalMemoryOffset: c.PhysicalMemoryOffset,
			MemoryMap:            memoryMap,
		},
		tables: pool.Allocated(),
	}
	log.Infof("machine: %d KiB RAM, %d boot page tables, physical memory at %v", c.RAMSize>>10, m.tables, c.PhysicalMemoryOffset)
	return m, nil
}

// mapRange maps size bytes at virt to phys page by page.
func mapRange(m *pagetables.Mapper, alloc pgalloc.FrameAllocator, virt hostarch.Addr, phys hostarch.PhysAddr, size uint64, opts pagetables.MapOpts) error {
	for off := uint64(0); off < size; off += hostarch.PageSize {
		page, ok := hostarch.PageFromStart(virt + hostarch.Addr(off))
		if !ok {
			return fmt.Errorf("%v is not page aligned", virt)
		}
		frame, ok := hostarch.FrameFromStart(phys + hostarch.PhysAddr(off))
		if !ok {
			return fmt.Errorf("%v is not a frame start", phys+hostarch.PhysAddr(off))
		}
		if err := m.Map(page, frame, opts, alloc); err != nil {
			return err
		}
	}
	return nil
}

// Close releases physical memory. The machine must not be used afterwards.
func (m *Machine) Close() error {
	return m.ram.Close()
}

// Config returns the configuration the machine was built from.
func (m *Machine) Config() Config {
	return m.config
}

// CPU returns the boot processor.
func (m *Machine) CPU() *CPU {
	return m.cpu
}

// Window returns the physical memory window.
func (m *Machine) Window() *physmem.Window {
	return m.window
}

// BootInfo returns the information the bootloader hands to the kernel.
func (m *Machine) BootInfo() *bootinfo.BootInfo {
	return &m.info
}

// BootTables returns the number of frames used by the boot page tables.
func (m *Machine) BootTables() uint64 {
	return m.tables
}

// VGAText returns the characters of the given text row, with NUL shown as a
// space.
func (m *Machine) VGAText(row int) (string, error) {
	if row < 0 || row >= VGARows {
		return "", fmt.Errorf("VGA row %d out of range", row)
	}
	b, err := m.window.PhysBytes(VGABuffer+hostarch.PhysAddr(row*VGAColumns*2), VGAColumns*2)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := 0; i < len(b); i += 2 {
		if b[i] == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(b[i])
		}
	}
	return sb.String(), nil
}
