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

// Package pagetables walks and extends x86-64 four-level page tables.
//
// Tables are never dereferenced by physical address. Every table is reached
// through the physical memory window (see physmem.Window), which maps all of
// physical memory at a fixed virtual offset.
//
// Only 4K pages are supported. A huge page found during a walk is fatal.
package pagetables

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/kpaging/pkg/hostarch"
)

// Address constants.
const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	indexMask = 0x1ff

	// entriesPerPage is the number of entries in a table at any level.
	entriesPerPage = 512

	// levels is the depth of the hierarchy.
	levels = 4

	lowerTop    = 0x00007fffffffffff
	upperBottom = 0xffff800000000000
)

// Bits in page table entries.
const (
	present        = 0x001
	writable       = 0x002
	user           = 0x004
	writeThrough   = 0x008
	cacheDisable   = 0x010
	accessed       = 0x020
	dirty          = 0x040
	super          = 0x080
	global         = 0x100
	executeDisable = 1 << 63

	addressMask = 0x000ffffffffff000
	optionMask  = executeDisable | 0xfff
)

// MapOpts are the options for a mapping.
type MapOpts struct {
	// AccessType defines permissions. At least one of Read, Write or
	// Execute must be set.
	AccessType hostarch.AccessType

	// Global indicates the page is global.
	Global bool

	// User indicates the page is a user page.
	User bool

	// MemoryType is the caching mode of the page.
	MemoryType hostarch.MemoryType
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	s := fmt.Sprintf("%s %s", o.AccessType, o.MemoryType.ShortString())
	if o.User {
		s += " user"
	}
	if o.Global {
		s += " global"
	}
	return s
}

// PTE is a page table entry.
type PTE uint64

// Clear clears this PTE.
func (p *PTE) Clear() {
	atomic.StoreUint64((*uint64)(p), 0)
}

// Valid returns true iff this entry is present.
func (p *PTE) Valid() bool {
	return atomic.LoadUint64((*uint64)(p))&present != 0
}

// IsSuper returns true iff this entry maps a huge page. It is only meaningful
// above the bottom level, where bit 7 selects the page size; in a bottom-level
// entry the same bit is the PAT bit.
func (p *PTE) IsSuper() bool {
	return atomic.LoadUint64((*uint64)(p))&super != 0
}

// Address extracts the frame address. This should only be used if Valid
// returns true.
func (p *PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(atomic.LoadUint64((*uint64)(p)) & addressMask)
}

// Flags returns the raw flag bits of the entry.
func (p *PTE) Flags() uint64 {
	return atomic.LoadUint64((*uint64)(p)) & optionMask
}

// Opts returns the options of a bottom-level entry.
//
// Precondition: p is valid.
func (p *PTE) Opts() MapOpts {
	v := atomic.LoadUint64((*uint64)(p))
	opts := MapOpts{
		AccessType: hostarch.AccessType{
			Read:    true,
			Write:   v&writable != 0,
			Execute: v&executeDisable == 0,
		},
		Global: v&global != 0,
		User:   v&user != 0,
	}
	switch {
	case v&cacheDisable != 0:
		opts.MemoryType = hostarch.MemoryTypeUncached
	case v&writeThrough != 0:
		opts.MemoryType = hostarch.MemoryTypeWriteThrough
	}
	return opts
}

// Set sets this bottom-level entry to map addr with the given options.
//
// If opts.AccessType.Any() is false, the entry is cleared.
func (p *PTE) Set(addr hostarch.PhysAddr, opts MapOpts) {
	if !opts.AccessType.Any() {
		p.Clear()
		return
	}
	v := (uint64(addr) & addressMask) | present
	if opts.AccessType.Write {
		v |= writable
	}
	if !opts.AccessType.Execute {
		v |= executeDisable
	}
	if opts.User {
		v |= user
	}
	if opts.Global {
		v |= global
	}
	switch opts.MemoryType {
	case hostarch.MemoryTypeWriteThrough:
		v |= writeThrough
	case hostarch.MemoryTypeUncached:
		v |= cacheDisable
	}
	atomic.StoreUint64((*uint64)(p), v)
}

// setPageTable sets this entry to reference the table at addr.
//
// Intermediate entries are maximally permissive: the leaf decides the access
// rights of the page.
func (p *PTE) setPageTable(addr hostarch.PhysAddr, usr bool) {
	v := (uint64(addr) & addressMask) | present | writable
	if usr {
		v |= user
	}
	atomic.StoreUint64((*uint64)(p), v)
}

// addTableFlags widens an existing intermediate entry so that a new leaf
// below it is reachable with the requested rights.
func (p *PTE) addTableFlags(usr bool) {
	want := uint64(writable)
	if usr {
		want |= user
	}
	for {
		old := atomic.LoadUint64((*uint64)(p))
		if old&want == want {
			return
		}
		if atomic.CompareAndSwapUint64((*uint64)(p), old, old|want) {
			return
		}
	}
}

// String implements fmt.Stringer.String.
func (p *PTE) String() string {
	if !p.Valid() {
		return "absent"
	}
	return fmt.Sprintf("%v flags=%#x", p.Address(), p.Flags())
}

// PTEs is a collection of entries: one page table.
type PTEs [entriesPerPage]PTE

// Indices returns the table indices of addr, top level first.
func Indices(addr hostarch.Addr) [levels]uint16 {
	return [levels]uint16{
		uint16((addr >> pgdShift) & indexMask),
		uint16((addr >> pudShift) & indexMask),
		uint16((addr >> pmdShift) & indexMask),
		uint16((addr >> pteShift) & indexMask),
	}
}

// Canonical returns true iff addr is a canonical 48-bit virtual address.
func Canonical(addr hostarch.Addr) bool {
	return uint64(addr) <= lowerTop || uint64(addr) >= upperBottom
}
