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

	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/physmem"
)

var levelNames = [levels]string{"pgd", "pud", "pmd", "pte"}

// next follows the intermediate entry e at the given level (0 is the top) and
// returns the table it references. ok is false if e is absent.
func next(w *physmem.Window, e *PTE, level int, addr hostarch.Addr) (*PTEs, bool) {
	if !e.Valid() {
		return nil, false
	}
	if e.IsSuper() {
		panic(fmt.Sprintf("huge page in %s entry %v while walking %v: huge pages are not supported", levelNames[level], e, addr))
	}
	return tableAt(w, e.Address()), true
}

// walk returns the bottom-level entry for addr, or nil if some intermediate
// entry is absent.
func walk(w *physmem.Window, root hostarch.Frame, addr hostarch.Addr) *PTE {
	idx := Indices(addr)
	table := tableAt(w, root.Start())
	for level := 0; level < levels-1; level++ {
		var ok bool
		if table, ok = next(w, &table[idx[level]], level, addr); !ok {
			return nil
		}
	}
	return &table[idx[levels-1]]
}
