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

// Package pgalloc hands out free physical frames.
//
// Frames are never returned: there is no free operation. Each frame is handed
// out at most once per allocator.
package pgalloc

import (
	"iter"

	"gvisor.dev/kpaging/pkg/bootinfo"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/log"
)

// FrameAllocator allocates physical frames.
type FrameAllocator interface {
	// AllocateFrame returns a frame that is not in use. ok is false if no
	// frame is available.
	AllocateFrame() (f hostarch.Frame, ok bool)
}

// EmptyAllocator never has a frame to give. It is used where new backing
// allocations are forbidden, for example when every intermediate table is
// known to exist already.
type EmptyAllocator struct{}

// AllocateFrame implements FrameAllocator.AllocateFrame.
func (EmptyAllocator) AllocateFrame() (hostarch.Frame, bool) {
	return hostarch.Frame{}, false
}

// BootInfoAllocator allocates frames from the usable regions of the boot
// memory map.
//
// Frames are handed out in region order, then in ascending address order
// within a region. Callers must not depend on any particular frame being
// returned.
//
// A BootInfoAllocator must have a single owner; it is not safe for concurrent
// use.
type BootInfoAllocator struct {
	// memoryMap is the immutable source of frames.
	memoryMap *bootinfo.MemoryMap

	// next is the number of frames handed out so far. It only grows.
	next uint64

	// exhausted is set once the first allocation fails.
	exhausted bool
}

// NewBootInfoAllocator returns an allocator over m.
//
// Every usable region in m must be free. Only one allocator may be created
// over a given memory map, otherwise both would hand out the same frames.
func NewBootInfoAllocator(m *bootinfo.MemoryMap) *BootInfoAllocator {
	return &BootInfoAllocator{memoryMap: m}
}

// AllocateFrame implements FrameAllocator.AllocateFrame.
func (a *BootInfoAllocator) AllocateFrame() (hostarch.Frame, bool) {
	f, ok := nthUsableFrame(a.memoryMap, a.next)
	if !ok {
		if !a.exhausted {
			a.exhausted = true
			log.Debugf("pgalloc: exhausted after %d frames", a.next)
		}
		return hostarch.Frame{}, false
	}
	a.next++
	return f, true
}

// Allocated returns the number of frames handed out.
func (a *BootInfoAllocator) Allocated() uint64 {
	return a.next
}

// Remaining returns the number of frames still available.
func (a *BootInfoAllocator) Remaining() uint64 {
	return a.memoryMap.UsableFrames() - a.next
}

// nthUsableFrame returns the frame at index n of UsableFrames(m) without
// visiting the frames before it.
func nthUsableFrame(m *bootinfo.MemoryMap, n uint64) (hostarch.Frame, bool) {
	for i := 0; i < m.Len(); i++ {
		r := m.Region(i)
		if r.Type != bootinfo.Usable {
			continue
		}
		first, count := r.Frames()
		if n < count {
			return hostarch.FrameFromStart(first.Start() + hostarch.PhysAddr(n<<hostarch.PageShift))
		}
		n -= count
	}
	return hostarch.Frame{}, false
}

// UsableFrames returns the ordered sequence of all usable frames in m.
func UsableFrames(m *bootinfo.MemoryMap) iter.Seq[hostarch.Frame] {
	return func(yield func(hostarch.Frame) bool) {
		for i := 0; i < m.Len(); i++ {
			r := m.Region(i)
			if r.Type != bootinfo.Usable {
				continue
			}
			first, count := r.Frames()
			for j := uint64(0); j < count; j++ {
				f, ok := hostarch.FrameFromStart(first.Start() + hostarch.PhysAddr(j<<hostarch.PageShift))
				if !ok || !yield(f) {
					return
				}
			}
		}
	}
}
