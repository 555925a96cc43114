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

import "testing"

func TestRoundUp(t *testing.T) {
	for _, tc := range []struct {
		in   Addr
		want Addr
		ok   bool
	}{
		{0, 0, true},
		{1, PageSize, true},
		{PageSize, PageSize, true},
		{PageSize + 1, 2 * PageSize, true},
		{^Addr(0), 0, false},
	} {
		got, ok := tc.in.RoundUp()
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("%v.RoundUp() = (%v, %t), want (%v, %t)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAddLengthOverflow(t *testing.T) {
	if _, ok := Addr(^uintptr(0) - 1).AddLength(2); ok {
		t.Errorf("AddLength should overflow")
	}
	if end, ok := Addr(0x1000).AddLength(0x1000); !ok || end != 0x2000 {
		t.Errorf("AddLength = (%v, %t), want (0x2000, true)", end, ok)
	}
	if _, ok := PhysAddr(^uint64(0)).AddLength(1); ok {
		t.Errorf("PhysAddr.AddLength should overflow")
	}
}

func TestPageContaining(t *testing.T) {
	p := PageContaining(0x201008)
	if p.Start() != 0x201000 {
		t.Errorf("PageContaining(0x201008).Start() = %v, want 0x201000", p.Start())
	}
	if _, ok := PageFromStart(0x201008); ok {
		t.Errorf("PageFromStart accepted an unaligned address")
	}
	next, ok := p.Next()
	if !ok || next.Start() != 0x202000 {
		t.Errorf("Next() = (%v, %t), want (0x202000, true)", next, ok)
	}
	if _, ok := PageContaining(^Addr(0)).Next(); ok {
		t.Errorf("Next() of the last page should fail")
	}
}

func TestFrameFromStart(t *testing.T) {
	if f, ok := FrameFromStart(0x100000); !ok || f.Start() != 0x100000 {
		t.Errorf("FrameFromStart(0x100000) = (%v, %t)", f, ok)
	}
	if _, ok := FrameFromStart(0x100010); ok {
		t.Errorf("FrameFromStart accepted an unaligned address")
	}
	if _, ok := FrameFromStart(PhysAddr(1) << 52); ok {
		t.Errorf("FrameFromStart accepted an address beyond 52 bits")
	}
	if got := FrameContaining(0x100fff).Start(); got != 0x100000 {
		t.Errorf("FrameContaining(0x100fff) = %v, want 0x100000", got)
	}
}

func TestAccessTypeString(t *testing.T) {
	for at, want := range map[AccessType]string{
		NoAccess:  "---",
		Read:      "r--",
		ReadWrite: "rw-",
		AnyAccess: "rwx",
	} {
		if got := at.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", at, got, want)
		}
	}
}
