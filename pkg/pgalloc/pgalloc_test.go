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

package pgalloc

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kpaging/pkg/bootinfo"
	"gvisor.dev/kpaging/pkg/hostarch"
)

func newMemoryMap(t *testing.T, regions ...bootinfo.MemoryRegion) *bootinfo.MemoryMap {
	t.Helper()
	m, err := bootinfo.NewMemoryMap(regions)
	if err != nil {
		t.Fatalf("NewMemoryMap failed: %v", err)
	}
	return m
}

func drain(a FrameAllocator, limit int) []hostarch.PhysAddr {
	var got []hostarch.PhysAddr
	for i := 0; i < limit; i++ {
		f, ok := a.AllocateFrame()
		if !ok {
			break
		}
		got = append(got, f.Start())
	}
	return got
}

func TestTwoFrameRegion(t *testing.T) {
	a := NewBootInfoAllocator(newMemoryMap(t,
		bootinfo.MemoryRegion{Start: 0x100000, End: 0x102000, Type: bootinfo.Usable},
	))

	for _, want := range []hostarch.PhysAddr{0x100000, 0x101000} {
		f, ok := a.AllocateFrame()
		if !ok || f.Start() != want {
			t.Fatalf("AllocateFrame() = (%v, %t), want (%v, true)", f, ok, want)
		}
	}
	for i := 0; i < 3; i++ {
		if f, ok := a.AllocateFrame(); ok {
			t.Fatalf("AllocateFrame() after exhaustion = %v", f)
		}
	}
	if got := a.Allocated(); got != 2 {
		t.Errorf("Allocated() = %d, want 2", got)
	}
}

func TestRegionOrder(t *testing.T) {
	// Regions are visited in map order, not address order, and only usable
	// regions contribute.
	a := NewBootInfoAllocator(newMemoryMap(t,
		bootinfo.MemoryRegion{Start: 0x0, End: 0x1000, Type: bootinfo.FrameZero},
		bootinfo.MemoryRegion{Start: 0x300000, End: 0x302000, Type: bootinfo.Usable},
		bootinfo.MemoryRegion{Start: 0x200000, End: 0x201000, Type: bootinfo.Kernel},
		bootinfo.MemoryRegion{Start: 0x1000, End: 0x3000, Type: bootinfo.Usable},
		bootinfo.MemoryRegion{Start: 0x5000, End: 0x5800, Type: bootinfo.Usable},
	))

	want := []hostarch.PhysAddr{0x300000, 0x301000, 0x1000, 0x2000}
	if diff := cmp.Diff(want, drain(a, 100)); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchesUsableFrames(t *testing.T) {
	m := newMemoryMap(t,
		bootinfo.MemoryRegion{Start: 0x1000, End: 0x9f000, Type: bootinfo.Usable},
		bootinfo.MemoryRegion{Start: 0x9f000, End: 0x100000, Type: bootinfo.Reserved},
		bootinfo.MemoryRegion{Start: 0x100000, End: 0x180000, Type: bootinfo.Usable},
	)
	want := slices.Collect(func(yield func(hostarch.PhysAddr) bool) {
		for f := range UsableFrames(m) {
			if !yield(f.Start()) {
				return
			}
		}
	})
	got := drain(NewBootInfoAllocator(m), 1<<20)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("allocator disagrees with UsableFrames (-want +got):\n%s", diff)
	}
	if uint64(len(got)) != m.UsableFrames() {
		t.Errorf("allocated %d frames, want %d", len(got), m.UsableFrames())
	}
}

func TestUniqueness(t *testing.T) {
	m := newMemoryMap(t,
		bootinfo.MemoryRegion{Start: 0x1000, End: 0x20000, Type: bootinfo.Usable},
		bootinfo.MemoryRegion{Start: 0x40000, End: 0x60000, Type: bootinfo.Usable},
	)
	a := NewBootInfoAllocator(m)
	seen := make(map[hostarch.PhysAddr]bool)
	for _, p := range drain(a, 1<<20) {
		if seen[p] {
			t.Fatalf("frame %v handed out twice", p)
		}
		seen[p] = true
	}
	if got := a.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d after exhaustion, want 0", got)
	}
}

func TestEmptyMap(t *testing.T) {
	a := NewBootInfoAllocator(newMemoryMap(t))
	if f, ok := a.AllocateFrame(); ok {
		t.Errorf("AllocateFrame() on an empty map = %v", f)
	}
}

func TestEmptyAllocator(t *testing.T) {
	var a FrameAllocator = EmptyAllocator{}
	for i := 0; i < 3; i++ {
		if f, ok := a.AllocateFrame(); ok {
			t.Errorf("EmptyAllocator returned %v", f)
		}
	}
}
