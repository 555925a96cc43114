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

package hostarch

import "fmt"

// Addr represents a virtual address. It is only meaningful relative to the
// page tables currently in effect.
type Addr uintptr

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uintptr is
	// smaller than 64 bits.
	ok = end >= v && length <= uint64(^Addr(0))
	return
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageMask)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}

// PhysAddr is a physical address. It carries no access rights by itself; it
// must be translated through a physical memory window before it can be read
// or written.
type PhysAddr uint64

// maxPhysAddr is the largest physical address encodable in a page table
// entry (52 bits).
const maxPhysAddr = PhysAddr(1)<<52 - 1

// Valid returns true iff p is encodable in a page table entry.
func (p PhysAddr) Valid() bool {
	return p <= maxPhysAddr
}

// AddLength is the physical equivalent of Addr.AddLength.
func (p PhysAddr) AddLength(length uint64) (end PhysAddr, ok bool) {
	end = p + PhysAddr(length)
	ok = end >= p
	return
}

// RoundDown returns the address rounded down to the nearest frame boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ PhysAddr(PageMask)
}

// RoundUp returns the address rounded up to the nearest frame boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = PhysAddr(p + PageMask).RoundDown()
	ok = addr >= p
	return
}

// IsPageAligned returns true iff p is frame aligned.
func (p PhysAddr) IsPageAligned() bool {
	return p&PageMask == 0
}

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}
