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
	"fmt"
	"unsafe"

	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/physmem"
)

// tableAt returns the table stored in the frame at addr, reached through the
// window.
//
// A table outside physical memory means the hierarchy is corrupt, which is
// fatal.
func tableAt(w *physmem.Window, addr hostarch.PhysAddr) *PTEs {
	b, err := w.PhysBytes(addr, hostarch.PageSize)
	if err != nil {
		panic(fmt.Sprintf("page table at %v unreachable: %v", addr, err))
	}
	return (*PTEs)(unsafe.Pointer(&b[0]))
}
