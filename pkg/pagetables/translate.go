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
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/physmem"
)

// Translate returns the physical address that addr maps to in the hierarchy
// rooted at root. ok is false if addr is not mapped.
//
// Translate does not allocate and does not modify the tables. It panics if it
// meets a huge page.
//
// Precondition: no other party is mutating the hierarchy concurrently.
func Translate(w *physmem.Window, root hostarch.Frame, addr hostarch.Addr) (hostarch.PhysAddr, bool) {
	if !Canonical(addr) {
		return 0, false
	}
	e := walk(w, root, addr)
	if e == nil || !e.Valid() {
		return 0, false
	}
	return e.Address() + hostarch.PhysAddr(addr.PageOffset()), true
}

// Lookup returns the bottom-level entry for addr. ok is false if no such entry
// is present.
func Lookup(w *physmem.Window, root hostarch.Frame, addr hostarch.Addr) (PTE, bool) {
	if !Canonical(addr) {
		return 0, false
	}
	e := walk(w, root, addr)
	if e == nil || !e.Valid() {
		return 0, false
	}
	return *e, true
}
