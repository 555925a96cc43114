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

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/kheap"
	"gvisor.dev/kpaging/pkg/machine"
)

// Size is a byte count that decodes from plain integers or from strings
// with a K, M or G suffix.
type Size uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(b []byte) error {
	str := strings.TrimSpace(string(b))
	shift := 0
	if n := len(str); n > 0 {
		switch str[n-1] {
		case 'K', 'k':
			shift = 10
		case 'M', 'm':
			shift = 20
		case 'G', 'g':
			shift = 30
		}
		if shift != 0 {
			str = str[:n-1]
		}
	}
	v, err := strconv.ParseUint(str, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", string(b), err)
	}
	if v > (^uint64(0))>>shift {
		return fmt.Errorf("size %q overflows", string(b))
	}
	*s = Size(v << shift)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	for _, u := range []struct {
		shift  uint
		suffix string
	}{{30, "G"}, {20, "M"}, {10, "K"}} {
		if s != 0 && uint64(s)&(1<<u.shift-1) == 0 {
			return []byte(strconv.FormatUint(uint64(s)>>u.shift, 10) + u.suffix), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(s), 10)), nil
}

// Address is a virtual address that decodes from integers or strings in any
// base accepted by strconv.ParseUint, with optional _ separators.
type Address hostarch.Addr

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", string(b), err)
	}
	*a = Address(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(hostarch.Addr(a).String()), nil
}

// Range is a virtual range of a machine description.
type Range struct {
	Start Address `toml:"start" yaml:"start"`
	Size  Size    `toml:"size" yaml:"size"`
}

// Machine is a machine description file. Fields left out of the file keep
// their default values.
type Machine struct {
	RAM                  Size    `toml:"ram" yaml:"ram"`
	PhysicalMemoryOffset Address `toml:"physical-memory-offset" yaml:"physical-memory-offset"`
	TLBEntries           int     `toml:"tlb-entries" yaml:"tlb-entries"`
	Kernel               Range   `toml:"kernel" yaml:"kernel"`
	Stack                Range   `toml:"stack" yaml:"stack"`
	Heap                 Range   `toml:"heap" yaml:"heap"`
}

// DefaultMachine returns the built-in machine description.
func DefaultMachine() Machine {
	c := machine.DefaultConfig()
	return Machine{
		RAM:                  Size(c.RAMSize),
		PhysicalMemoryOffset: Address(c.PhysicalMemoryOffset),
		TLBEntries:           c.TLBEntries,
		Kernel:               Range{Start: Address(c.KernelVirt), Size: Size(c.KernelSize)},
		Stack:                Range{Start: Address(c.StackVirt), Size: Size(c.StackSize)},
		Heap:                 Range{Start: Address(kheap.DefaultStart), Size: kheap.DefaultSize},
	}
}

// LoadMachine reads the machine description at path. The default machine is
// returned if path is empty.
//
// Files ending in .yaml or .yml are decoded as YAML, anything else as TOML.
// Unknown keys are an error.
func LoadMachine(path string) (Machine, error) {
	m := DefaultMachine()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading machine description: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return m, fmt.Errorf("decoding %q: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return m, fmt.Errorf("decoding %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return m, fmt.Errorf("decoding %q: unknown keys %v", path, undecoded)
		}
	}
	return m, nil
}

// MachineConfig returns the machine.Config described by m.
func (m Machine) MachineConfig() machine.Config {
	return machine.Config{
		RAMSize:              uint64(m.RAM),
		PhysicalMemoryOffset: hostarch.Addr(m.PhysicalMemoryOffset),
		KernelSize:           uint64(m.Kernel.Size),
		KernelVirt:           hostarch.Addr(m.Kernel.Start),
		StackSize:            uint64(m.Stack.Size),
		StackVirt:            hostarch.Addr(m.Stack.Start),
		TLBEntries:           m.TLBEntries,
	}
}

// Encode writes m as TOML.
func (m Machine) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(m)
}
