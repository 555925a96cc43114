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

// Page is a page-aligned unit of virtual address space.
//
// The zero value is the page at virtual address zero.
type Page struct {
	start Addr
}

// PageContaining returns the page that contains addr.
func PageContaining(addr Addr) Page {
	return Page{start: addr.RoundDown()}
}

// PageFromStart returns the page starting at addr. ok is false if addr is not
// page aligned.
func PageFromStart(addr Addr) (Page, bool) {
	if !addr.IsPageAligned() {
		return Page{}, false
	}
	return Page{start: addr}, true
}

// Start returns the first address of the page.
func (p Page) Start() Addr {
	return p.start
}

// Next returns the following page. ok is false if it would wrap around.
func (p Page) Next() (Page, bool) {
	next, ok := p.start.AddLength(PageSize)
	if !ok || next == 0 {
		return Page{}, false
	}
	return Page{start: next}, true
}

// String implements fmt.Stringer.String.
func (p Page) String() string {
	return fmt.Sprintf("Page[%#x]", uintptr(p.start))
}

// Frame is a frame-aligned unit of physical memory.
//
// The zero value is frame zero. Allocators report the absence of a frame with
// a separate boolean rather than a sentinel frame.
type Frame struct {
	start PhysAddr
}

// FrameContaining returns the frame that contains addr.
func FrameContaining(addr PhysAddr) Frame {
	return Frame{start: addr.RoundDown()}
}

// FrameFromStart returns the frame starting at addr. ok is false if addr is
// not frame aligned or not encodable in a page table entry.
func FrameFromStart(addr PhysAddr) (Frame, bool) {
	if !addr.IsPageAligned() || !addr.Valid() {
		return Frame{}, false
	}
	return Frame{start: addr}, true
}

// Start returns the first physical address of the frame.
func (f Frame) Start() PhysAddr {
	return f.start
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	return fmt.Sprintf("Frame[%#x]", uint64(f.start))
}
