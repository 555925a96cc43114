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

package physmem

import (
	"bytes"
	"errors"
	"testing"

	"gvisor.dev/kpaging/pkg/hostarch"
)

const testOffset = hostarch.Addr(0x100000000000)

func newTestRAM(t *testing.T, size uint64) *RAM {
	t.Helper()
	ram, err := NewRAM(size)
	if err != nil {
		t.Fatalf("NewRAM(%#x) failed: %v", size, err)
	}
	t.Cleanup(func() {
		if err := ram.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return ram
}

func TestNewRAMRoundsUp(t *testing.T) {
	ram := newTestRAM(t, hostarch.PageSize+1)
	if got := ram.Size(); got != 2*hostarch.PageSize {
		t.Errorf("Size() = %#x, want %#x", got, 2*hostarch.PageSize)
	}
	if _, err := NewRAM(0); err == nil {
		t.Errorf("NewRAM(0) succeeded")
	}
}

func TestWindowSingleOffset(t *testing.T) {
	ram := newTestRAM(t, 4*hostarch.PageSize)
	w, err := ram.Window(testOffset)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	again, err := ram.Window(testOffset)
	if err != nil || again != w {
		t.Errorf("Window with the same offset = (%p, %v), want (%p, nil)", again, err, w)
	}
	if _, err := ram.Window(testOffset + hostarch.PageSize); !errors.Is(err, ErrInconsistentOffset) {
		t.Errorf("Window with a new offset returned %v, want %v", err, ErrInconsistentOffset)
	}
}

func TestWindowRejectsBadOffsets(t *testing.T) {
	if _, err := newTestRAM(t, hostarch.PageSize).Window(testOffset + 1); err == nil {
		t.Errorf("unaligned offset accepted")
	}
	if _, err := newTestRAM(t, 2*hostarch.PageSize).Window(^hostarch.Addr(0) &^ hostarch.PageMask); err == nil {
		t.Errorf("overflowing offset accepted")
	}
}

func TestWindowTranslation(t *testing.T) {
	ram := newTestRAM(t, 4*hostarch.PageSize)
	w, err := ram.Window(testOffset)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if v, ok := w.VirtualFor(0x1234); !ok || v != testOffset+0x1234 {
		t.Errorf("VirtualFor(0x1234) = (%v, %t)", v, ok)
	}
	if _, ok := w.VirtualFor(4 * hostarch.PageSize); ok {
		t.Errorf("VirtualFor past the end succeeded")
	}
	if p, ok := w.PhysicalFor(testOffset + 0x1234); !ok || p != 0x1234 {
		t.Errorf("PhysicalFor = (%v, %t)", p, ok)
	}
	if _, ok := w.PhysicalFor(testOffset - 1); ok {
		t.Errorf("PhysicalFor below the window succeeded")
	}
}

func TestBytesBounds(t *testing.T) {
	ram := newTestRAM(t, 2*hostarch.PageSize)
	w, err := ram.Window(testOffset)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}

	b, err := w.PhysBytes(hostarch.PageSize, hostarch.PageSize)
	if err != nil {
		t.Fatalf("PhysBytes failed: %v", err)
	}
	copy(b, "frame one")
	if got, err := w.Bytes(testOffset+hostarch.PageSize, 9); err != nil || !bytes.Equal(got, []byte("frame one")) {
		t.Errorf("Bytes = (%q, %v), want frame one", got, err)
	}

	if _, err := w.PhysBytes(hostarch.PageSize, hostarch.PageSize+1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("PhysBytes across the end returned %v, want %v", err, ErrOutOfBounds)
	}
	if _, err := w.PhysBytes(1, ^uint64(0)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("PhysBytes with overflowing length returned %v, want %v", err, ErrOutOfBounds)
	}

	if err := w.Zero(hostarch.PageSize, hostarch.PageSize); err != nil {
		t.Fatalf("Zero failed: %v", err)
	}
	if !bytes.Equal(b, make([]byte, hostarch.PageSize)) {
		t.Errorf("Zero left data behind")
	}
}

func TestAcquireRelease(t *testing.T) {
	w, err := newTestRAM(t, hostarch.PageSize).Window(testOffset)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if !w.Acquire() {
		t.Fatalf("first Acquire failed")
	}
	if w.Acquire() {
		t.Fatalf("second Acquire succeeded")
	}
	w.Release()
	if !w.Acquire() {
		t.Fatalf("Acquire after Release failed")
	}
	w.Release()

	defer func() {
		if recover() == nil {
			t.Errorf("Release of an unowned window did not panic")
		}
	}()
	w.Release()
}
