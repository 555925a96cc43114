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

// Package kheap sets up the kernel heap: a fixed virtual range backed by
// freshly allocated frames, and a bump allocator over it.
package kheap

import (
	"errors"
	"fmt"
	"time"

	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/log"
	"gvisor.dev/kpaging/pkg/pagetables"
	"gvisor.dev/kpaging/pkg/pgalloc"
)

const (
	// DefaultStart is the default virtual address of the heap.
	DefaultStart = hostarch.Addr(0x0000444444440000)

	// DefaultSize is the default size of the heap.
	DefaultSize = 100 << 10
)

// ErrOutOfMemory is returned when the heap cannot satisfy an allocation.
var ErrOutOfMemory = errors.New("heap exhausted")

// heapOpts are the options of every heap page.
var heapOpts = pagetables.MapOpts{AccessType: hostarch.ReadWrite}

// Heap is a mapped heap range.
type Heap struct {
	start hostarch.Addr
	end   hostarch.Addr
}

// Start returns the first address of the heap.
func (h Heap) Start() hostarch.Addr {
	return h.start
}

// End returns the address just past the heap.
func (h Heap) End() hostarch.Addr {
	return h.end
}

// Size returns the size of the heap in bytes.
func (h Heap) Size() uint64 {
	return uint64(h.end - h.start)
}

// Init maps every page of [start, start+size) to a new frame from alloc,
// writable and not executable. The frames also back any missing tables.
//
// Init stops at the first failure. Pages mapped before the failure stay
// mapped since nothing can unmap them.
func Init(m *pagetables.Mapper, alloc pgalloc.FrameAllocator, start hostarch.Addr, size uint64) (Heap, error) {
	first, ok := hostarch.PageFromStart(start)
	if !ok {
		return Heap{}, fmt.Errorf("heap start %v is not page aligned", start)
	}
	if size == 0 {
		return Heap{}, fmt.Errorf("heap size must be non-zero")
	}
	end, ok := start.AddLength(size)
	if !ok {
		return Heap{}, fmt.Errorf("heap [%v, +%#x) overflows", start, size)
	}
	end, ok = end.RoundUp()
	if !ok {
		return Heap{}, fmt.Errorf("heap [%v, +%#x) overflows", start, size)
	}

	progress := log.BasicRateLimitedLogger(100 * time.Millisecond)
	page := first
	for n := 0; page.Start() < end; n++ {
		frame, ok := alloc.AllocateFrame()
		if !ok {
			return Heap{}, fmt.Errorf("backing heap %v: %w", page, pagetables.ErrFrameAllocationFailed)
		}
		if err := m.Map(page, frame, heapOpts, alloc); err != nil {
			return Heap{}, fmt.Errorf("mapping heap: %w", err)
		}
		progress.Debugf("kheap: mapped %d pages, last %v -> %v", n+1, page, frame)
		if page, ok = page.Next(); !ok {
			break
		}
	}
	log.Infof("kheap: heap at [%v, %v)", start, end)
	return Heap{start: start, end: end}, nil
}
