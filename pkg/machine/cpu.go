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
	"errors"
	"fmt"

	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/pagetables"
	"gvisor.dev/kpaging/pkg/physmem"
)

// ErrPageFault is returned for an access that the page tables do not permit.
var ErrPageFault = errors.New("page fault")

// tlbEntry is a cached bottom-level translation.
type tlbEntry struct {
	frame hostarch.PhysAddr
	opts  pagetables.MapOpts
}

// CPU is an emulated processor: a page-table base register and a TLB.
//
// Translations are cached in the TLB exactly as the hardware caches them: a
// change to the tables is not observed by Access until the affected page is
// invalidated or CR3 is reloaded.
//
// CPU is not safe for concurrent use.
type CPU struct {
	// window reaches the page tables and physical memory. Immutable.
	window *physmem.Window

	// cr3 is the page-table base register.
	cr3 uint64

	// tlb maps page start addresses to cached translations.
	tlb map[hostarch.Addr]tlbEntry

	// fifo is the fill order of tlb, used for eviction.
	fifo []hostarch.Addr

	// capacity is the maximum size of tlb.
	capacity int

	// Counters, informational only.
	hits          uint64
	misses        uint64
	invalidations uint64
}

func newCPU(w *physmem.Window, capacity int) *CPU {
	return &CPU{
		window:   w,
		tlb:      make(map[hostarch.Addr]tlbEntry, capacity),
		capacity: capacity,
	}
}

// CR3 implements pagetables.CPU.CR3.
func (c *CPU) CR3() uint64 {
	return c.cr3
}

// LoadCR3 switches to the tables rooted at cr3 and flushes the TLB.
func (c *CPU) LoadCR3(cr3 uint64) {
	c.cr3 = cr3
	c.FlushAll()
}

// InvalidatePage implements pagetables.CPU.InvalidatePage.
func (c *CPU) InvalidatePage(page hostarch.Page) {
	c.invalidations++
	if _, ok := c.tlb[page.Start()]; !ok {
		return
	}
	delete(c.tlb, page.Start())
	for i, a := range c.fifo {
		if a == page.Start() {
			c.fifo = append(c.fifo[:i], c.fifo[i+1:]...)
			break
		}
	}
}

// FlushAll drops every cached translation.
func (c *CPU) FlushAll() {
	clear(c.tlb)
	c.fifo = c.fifo[:0]
}

// Cached returns true iff the TLB holds a translation for page.
func (c *CPU) Cached(page hostarch.Page) bool {
	_, ok := c.tlb[page.Start()]
	return ok
}

// Stats returns the TLB hit, miss and invalidation counts.
func (c *CPU) Stats() (hits, misses, invalidations uint64) {
	return c.hits, c.misses, c.invalidations
}

// Access translates addr for an access of type at, as the MMU would.
//
// The TLB is consulted first. On a miss the tables are walked and the result
// is cached.
func (c *CPU) Access(addr hostarch.Addr, at hostarch.AccessType) (hostarch.PhysAddr, error) {
	page := hostarch.PageContaining(addr)
	e, ok := c.tlb[page.Start()]
	if ok {
		c.hits++
	} else {
		c.misses++
		pte, ok := pagetables.Lookup(c.window, pagetables.RootFromCR3(c.cr3), addr)
		if !ok {
			return 0, fmt.Errorf("%w: %s access to unmapped %v", ErrPageFault, at, addr)
		}
		e = tlbEntry{frame: pte.Address(), opts: pte.Opts()}
		c.fill(page.Start(), e)
	}
	if (at.Write && !e.opts.AccessType.Write) || (at.Execute && !e.opts.AccessType.Execute) {
		return 0, fmt.Errorf("%w: %s access to %v mapped %s", ErrPageFault, at, addr, e.opts.AccessType)
	}
	return e.frame + hostarch.PhysAddr(addr.PageOffset()), nil
}

func (c *CPU) fill(start hostarch.Addr, e tlbEntry) {
	if len(c.fifo) >= c.capacity {
		delete(c.tlb, c.fifo[0])
		c.fifo = c.fifo[1:]
	}
	c.tlb[start] = e
	c.fifo = append(c.fifo, start)
}

// CopyOut copies src to virtual address addr. It returns the number of bytes
// copied, which is less than len(src) only if an error occurred.
func (c *CPU) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return c.copy(addr, src, hostarch.Write, func(dst, src []byte) int { return copy(dst, src) })
}

// CopyIn copies len(dst) bytes from virtual address addr into dst. It returns
// the number of bytes copied, which is less than len(dst) only if an error
// occurred.
func (c *CPU) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return c.copy(addr, dst, hostarch.Read, func(mem, dst []byte) int { return copy(dst, mem) })
}

// copy moves buf to or from memory at addr one page at a time. op receives
// the physical memory and the matching part of buf.
func (c *CPU) copy(addr hostarch.Addr, buf []byte, at hostarch.AccessType, op func(mem, buf []byte) int) (int, error) {
	done := 0
	for done < len(buf) {
		cur := addr + hostarch.Addr(done)
		if cur < addr {
			return done, fmt.Errorf("%w: access past the end of the address space", ErrPageFault)
		}
		n := min(len(buf)-done, int(hostarch.PageSize-cur.PageOffset()))
		p, err := c.Access(cur, at)
		if err != nil {
			return done, err
		}
		mem, err := c.window.PhysBytes(p, uint64(n))
		if err != nil {
			return done, err
		}
		done += op(mem, buf[done:done+n])
	}
	return done, nil
}

// ReadUint64 reads the little-endian word at addr.
func (c *CPU) ReadUint64(addr hostarch.Addr) (uint64, error) {
	var b [8]byte
	if _, err := c.CopyIn(addr, b[:]); err != nil {
		return 0, err
	}
	return hostarch.ByteOrder.Uint64(b[:]), nil
}

// WriteUint64 writes v as a little-endian word at addr.
func (c *CPU) WriteUint64(addr hostarch.Addr, v uint64) error {
	var b [8]byte
	hostarch.ByteOrder.PutUint64(b[:], v)
	_, err := c.CopyOut(addr, b[:])
	return err
}
