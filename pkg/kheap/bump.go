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

package kheap

import (
	"fmt"
	"math/bits"

	"gvisor.dev/kpaging/pkg/hostarch"
)

// BumpAllocator hands out heap memory by moving a pointer forward.
//
// Individual allocations are not reclaimed; the whole heap is reset once
// every allocation has been freed.
type BumpAllocator struct {
	heap Heap

	// next is the first free address.
	next hostarch.Addr

	// live is the number of allocations not yet freed.
	live int
}

// NewBumpAllocator returns an allocator over h.
func NewBumpAllocator(h Heap) *BumpAllocator {
	return &BumpAllocator{heap: h, next: h.start}
}

// Alloc returns the address of size bytes aligned to align, which must be a
// power of two.
func (b *BumpAllocator) Alloc(size, align uint64) (hostarch.Addr, error) {
	if align == 0 || bits.OnesCount64(align) != 1 {
		return 0, fmt.Errorf("alignment %d is not a power of two", align)
	}
	start, ok := b.next.AddLength(align - 1)
	if !ok {
		return 0, ErrOutOfMemory
	}
	start &^= hostarch.Addr(align - 1)
	end, ok := start.AddLength(size)
	if !ok || end > b.heap.end {
		return 0, fmt.Errorf("allocating %d bytes aligned to %d with %d bytes free: %w", size, align, b.Available(), ErrOutOfMemory)
	}
	b.next = end
	b.live++
	return start, nil
}

// Free releases an allocation.
func (b *BumpAllocator) Free(addr hostarch.Addr) {
	if addr < b.heap.start || addr >= b.heap.end || b.live == 0 {
		panic(fmt.Sprintf("kheap: free of %v not allocated from heap [%v, %v)", addr, b.heap.start, b.heap.end))
	}
	b.live--
	if b.live == 0 {
		b.next = b.heap.start
	}
}

// Available returns the number of bytes after the last allocation.
func (b *BumpAllocator) Available() uint64 {
	return uint64(b.heap.end - b.next)
}

// Live returns the number of outstanding allocations.
func (b *BumpAllocator) Live() int {
	return b.live
}
