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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/kpaging/kboot/config"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/kheap"
	"gvisor.dev/kpaging/pkg/pagetables"
	"gvisor.dev/kpaging/pkg/pgalloc"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	// withHeap maps the heap before translating.
	withHeap bool
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses on a freshly booted machine"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return "translate [flags] <address>... - prints the physical address and mapping of each virtual address.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&t.withHeap, "heap", false, "map the kernel heap before translating.")
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addrs, err := parseAddrs(f.Args())
	if err != nil {
		Fatalf("%v", err)
	}
	conf := args[0].(*config.Config)
	if err := t.run(conf, addrs, os.Stdout); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func parseAddrs(args []string) ([]hostarch.Addr, error) {
	addrs := make([]hostarch.Addr, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		addrs = append(addrs, hostarch.Addr(v))
	}
	return addrs, nil
}

func (t *Translate) run(conf *config.Config, addrs []hostarch.Addr, out io.Writer) error {
	s, err := bootMachine(conf)
	if err != nil {
		return err
	}
	defer s.close()

	if t.withHeap {
		alloc := pgalloc.NewBootInfoAllocator(s.machine.BootInfo().MemoryMap)
		if _, err := kheap.Init(s.mapper, alloc, hostarch.Addr(s.desc.Heap.Start), uint64(s.desc.Heap.Size)); err != nil {
			return fmt.Errorf("heap initialization: %w", err)
		}
	}
	for _, addr := range addrs {
		writeTranslation(out, s.mapper, addr)
	}
	return nil
}

// writeTranslation prints where addr maps to, with the options of its page.
func writeTranslation(out io.Writer, m *pagetables.Mapper, addr hostarch.Addr) {
	phys, ok := m.Translate(addr)
	if !ok {
		fmt.Fprintf(out, "%v -> none\n", addr)
		return
	}
	pte, _ := pagetables.Lookup(m.Window(), m.Root(), addr)
	fmt.Fprintf(out, "%v -> %v (%v)\n", addr, phys, pte.Opts())
}
