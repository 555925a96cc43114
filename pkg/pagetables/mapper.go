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

package pagetables

import (
	"errors"
	"fmt"

	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/log"
	"gvisor.dev/kpaging/pkg/pgalloc"
	"gvisor.dev/kpaging/pkg/physmem"
)

var (
	// ErrPageAlreadyMapped is returned by Map when the page already has a
	// mapping. The existing mapping is left untouched.
	ErrPageAlreadyMapped = errors.New("page already mapped")

	// ErrFrameAllocationFailed is returned by Map when a missing table
	// could not be allocated.
	ErrFrameAllocationFailed = errors.New("frame allocation failed")

	// ErrAlreadyOwned is returned by Init when another Mapper holds the
	// window.
	ErrAlreadyOwned = errors.New("page tables already owned")

	// ErrNonCanonical is returned by Map for a page outside the canonical
	// address ranges.
	ErrNonCanonical = errors.New("non-canonical address")

	// ErrReleased is returned by Map after Release.
	ErrReleased = errors.New("mapper released")
)

// CPU is the processor state the mapper depends on.
type CPU interface {
	// CR3 returns the page-table base register.
	CR3() uint64

	// InvalidatePage drops any cached translation for page.
	InvalidatePage(page hostarch.Page)
}

// RootFromCR3 returns the root table frame encoded in a CR3 value.
func RootFromCR3(cr3 uint64) hostarch.Frame {
	f, _ := hostarch.FrameFromStart(hostarch.PhysAddr(cr3 & addressMask))
	return f
}

// noCopy may be embedded into structs which must not be copied after first
// use. It is recognized by go vet's copylocks checker.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock() {}

// Unlock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Unlock() {}

// Mapper is the single owner of the active page tables.
//
// At most one Mapper may exist for a given window at a time; Init enforces
// this. A Mapper must not be copied.
type Mapper struct {
	_ noCopy

	// window reaches every table. Immutable.
	window *physmem.Window

	// cpu receives TLB invalidations. Immutable.
	cpu CPU

	// root is the top-level table frame, read from CR3 by Init. Immutable.
	root hostarch.Frame

	// released is set by Release.
	released bool

	// stats counts what Map has done.
	stats MapperStats
}

// MapperStats are the counters kept by a Mapper.
type MapperStats struct {
	// Mapped is the number of successful Map calls.
	Mapped uint64

	// Tables is the number of intermediate tables Map allocated.
	Tables uint64

	// Conflicts is the number of Map calls that found the page mapped.
	Conflicts uint64

	// AllocationFailures is the number of Map calls that ran out of frames.
	AllocationFailures uint64
}

// Init returns the Mapper for the tables that cpu is currently running on.
//
// It fails with ErrAlreadyOwned if another Mapper over w has not been
// released.
func Init(cpu CPU, w *physmem.Window) (*Mapper, error) {
	if !w.Acquire() {
		return nil, fmt.Errorf("window at %v: %w", w.Offset(), ErrAlreadyOwned)
	}
	root := RootFromCR3(cpu.CR3())
	if _, ok := w.VirtualFor(root.Start()); !ok {
		w.Release()
		return nil, fmt.Errorf("root table %v: %w", root, physmem.ErrOutOfBounds)
	}
	log.Debugf("pagetables: mapper over %v, window at %v", root, w.Offset())
	return &Mapper{
		window: w,
		cpu:    cpu,
		root:   root,
	}, nil
}

// Release gives up ownership of the tables. The Mapper must not be used
// afterwards. Release is idempotent.
func (m *Mapper) Release() {
	if m.released {
		return
	}
	m.released = true
	m.window.Release()
}

// Root returns the top-level table frame.
func (m *Mapper) Root() hostarch.Frame {
	return m.root
}

// Window returns the window the Mapper reaches tables through.
func (m *Mapper) Window() *physmem.Window {
	return m.window
}

// Stats returns the Mapper's counters.
func (m *Mapper) Stats() MapperStats {
	return m.stats
}

// Translate is equivalent to Translate(m.Window(), m.Root(), addr).
func (m *Mapper) Translate(addr hostarch.Addr) (hostarch.PhysAddr, bool) {
	return Translate(m.window, m.root, addr)
}

// Map maps page to frame with the given options.
//
// Missing intermediate tables are allocated from allocator and zeroed before
// they are installed. Map fails with ErrFrameAllocationFailed if allocator
// runs dry, and with ErrPageAlreadyMapped if page is already mapped. On
// success the page's stale TLB entry has been invalidated when Map returns.
//
// Precondition: frame is not one of the tables of the hierarchy.
func (m *Mapper) Map(page hostarch.Page, frame hostarch.Frame, opts MapOpts, allocator pgalloc.FrameAllocator) error {
	if m.released {
		return ErrReleased
	}
	if !opts.AccessType.Any() {
		return fmt.Errorf("mapping %v with no access", page)
	}
	addr := page.Start()
	if !Canonical(addr) {
		return fmt.Errorf("mapping %v: %w", page, ErrNonCanonical)
	}

	idx := Indices(addr)
	table := tableAt(m.window, m.root.Start())
	for level := 0; level < levels-1; level++ {
		e := &table[idx[level]]
		if child, ok := next(m.window, e, level, addr); ok {
			e.addTableFlags(opts.User)
			table = child
			continue
		}
		f, ok := allocator.AllocateFrame()
		if !ok {
			m.stats.AllocationFailures++
			return fmt.Errorf("creating %s table for %v: %w", levelNames[level+1], page, ErrFrameAllocationFailed)
		}
		if err := m.window.Zero(f.Start(), hostarch.PageSize); err != nil {
			return fmt.Errorf("creating %s table for %v at %v: %w", levelNames[level+1], page, f, err)
		}
		e.setPageTable(f.Start(), opts.User)
		m.stats.Tables++
		log.Debugf("pagetables: new %s table %v for %v", levelNames[level+1], f, page)
		table = tableAt(m.window, f.Start())
	}

	e := &table[idx[levels-1]]
	if e.Valid() {
		m.stats.Conflicts++
		return fmt.Errorf("mapping %v to %v: already mapped to %v: %w", page, frame, e.Address(), ErrPageAlreadyMapped)
	}
	e.Set(frame.Start(), opts)
	m.cpu.InvalidatePage(page)
	m.stats.Mapped++
	return nil
}
