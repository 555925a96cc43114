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

// Package physmem provides physical memory and the linear window through
// which the kernel reaches it.
//
// Physical memory is backed by an anonymous host mapping. A Window makes all
// of it addressable at a single fixed virtual offset, so that a physical
// address p is reachable at virtual address offset+p. Every access through
// the window is bounds checked.
package physmem

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/log"
)

var (
	// ErrOutOfBounds is returned for accesses outside physical memory.
	ErrOutOfBounds = errors.New("access outside physical memory")

	// ErrInconsistentOffset is returned when a second window with a
	// different offset is requested over the same memory.
	ErrInconsistentOffset = errors.New("physical memory already mapped at a different offset")
)

// RAM is a fixed-size block of emulated physical memory starting at physical
// address zero.
type RAM struct {
	// data is the host mapping backing physical memory. It is nil after
	// Close.
	data []byte

	// mu protects window.
	mu sync.Mutex

	// window is the single window over this memory, once created.
	window *Window
}

// NewRAM maps size bytes of zeroed physical memory. size is rounded up to a
// whole number of frames.
func NewRAM(size uint64) (*RAM, error) {
	if size == 0 {
		return nil, fmt.Errorf("physical memory size must be non-zero")
	}
	rounded, ok := hostarch.PhysAddr(size).RoundUp()
	if !ok || uint64(rounded) > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("physical memory size %#x too large", size)
	}
	data, err := unix.Mmap(-1, 0, int(rounded),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes of physical memory: %w", uint64(rounded), err)
	}
	log.Debugf("physical memory: %#x bytes at host %p", uint64(rounded), &data[0])
	return &RAM{data: data}, nil
}

// Size returns the size of physical memory in bytes.
func (r *RAM) Size() uint64 {
	return uint64(len(r.data))
}

// Close releases the host mapping. No window over r may be used afterwards.
func (r *RAM) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Window returns the window that maps r at offset.
//
// Only one offset may ever be active for a given RAM: the first call fixes it,
// later calls with the same offset return the same window, and calls with a
// different offset fail with ErrInconsistentOffset.
func (r *RAM) Window(offset hostarch.Addr) (*Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.window != nil {
		if r.window.offset != offset {
			return nil, fmt.Errorf("%w: have %v, want %v", ErrInconsistentOffset, r.window.offset, offset)
		}
		return r.window, nil
	}
	if !offset.IsPageAligned() {
		return nil, fmt.Errorf("physical memory offset %v is not page aligned", offset)
	}
	if _, ok := offset.AddLength(r.Size()); !ok {
		return nil, fmt.Errorf("physical memory offset %v overflows with size %#x", offset, r.Size())
	}
	r.window = &Window{offset: offset, ram: r}
	return r.window, nil
}
