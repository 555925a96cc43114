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

package physmem

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/kpaging/pkg/hostarch"
)

// Window is the linear mapping of all physical memory at a fixed virtual
// offset.
//
// Windows are obtained from RAM.Window and are shared by reference.
type Window struct {
	// offset is the virtual address of physical address zero. Immutable.
	offset hostarch.Addr

	// ram is the memory being mapped. Immutable.
	ram *RAM

	// owned is set while some party holds the authority to mutate page
	// tables reached through this window.
	owned atomic.Bool
}

// Offset returns the physical memory offset.
func (w *Window) Offset() hostarch.Addr {
	return w.offset
}

// Size returns the size of the physical memory reachable through w.
func (w *Window) Size() uint64 {
	return w.ram.Size()
}

// VirtualFor returns the virtual address of p in the window. ok is false if p
// lies outside physical memory.
func (w *Window) VirtualFor(p hostarch.PhysAddr) (hostarch.Addr, bool) {
	if uint64(p) >= w.ram.Size() {
		return 0, false
	}
	// Cannot overflow: RAM.Window checked offset+size.
	return w.offset + hostarch.Addr(p), true
}

// PhysicalFor returns the physical address that the window maps at v. ok is
// false if v lies outside the window.
func (w *Window) PhysicalFor(v hostarch.Addr) (hostarch.PhysAddr, bool) {
	if v < w.offset {
		return 0, false
	}
	p := uint64(v - w.offset)
	if p >= w.ram.Size() {
		return 0, false
	}
	return hostarch.PhysAddr(p), true
}

// Bytes returns the n bytes mapped at virtual address v.
//
// The returned slice aliases physical memory and must not be retained beyond
// the lifetime of the RAM.
func (w *Window) Bytes(v hostarch.Addr, n uint64) ([]byte, error) {
	p, ok := w.PhysicalFor(v)
	if !ok {
		return nil, fmt.Errorf("%w: virtual %v not in window at %v", ErrOutOfBounds, v, w.offset)
	}
	end, ok := p.AddLength(n)
	if !ok || uint64(end) > w.ram.Size() {
		return nil, fmt.Errorf("%w: [%v, +%#x) exceeds %#x", ErrOutOfBounds, p, n, w.ram.Size())
	}
	return w.ram.data[p:end:end], nil
}

// PhysBytes returns the n bytes at physical address p, reached through the
// window.
func (w *Window) PhysBytes(p hostarch.PhysAddr, n uint64) ([]byte, error) {
	v, ok := w.VirtualFor(p)
	if !ok {
		return nil, fmt.Errorf("%w: physical %v", ErrOutOfBounds, p)
	}
	return w.Bytes(v, n)
}

// Zero clears n bytes of physical memory at p.
func (w *Window) Zero(p hostarch.PhysAddr, n uint64) error {
	b, err := w.PhysBytes(p, n)
	if err != nil {
		return err
	}
	clear(b)
	return nil
}

// Acquire claims the exclusive authority to mutate page tables reached
// through w. It returns false if the authority is already held.
func (w *Window) Acquire() bool {
	return w.owned.CompareAndSwap(false, true)
}

// Release gives up the authority obtained by Acquire.
//
// Precondition: the caller holds the authority.
func (w *Window) Release() {
	if !w.owned.CompareAndSwap(true, false) {
		panic("physmem: Release of a window that is not owned")
	}
}
