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

	"github.com/google/subcommands"
	"gvisor.dev/kpaging/kboot/config"
	"gvisor.dev/kpaging/pkg/hostarch"
	"gvisor.dev/kpaging/pkg/kheap"
	"gvisor.dev/kpaging/pkg/log"
	"gvisor.dev/kpaging/pkg/machine"
	"gvisor.dev/kpaging/pkg/pagetables"
	"gvisor.dev/kpaging/pkg/pgalloc"
)

const (
	// exampleAddr is the unused page that boot maps onto the VGA buffer.
	exampleAddr = hostarch.Addr(0xdeadbeaf000)

	// exampleMarker spells "New!" in white on grey when written to the
	// VGA buffer.
	exampleMarker = 0xf021f077f065f04e

	// exampleOffset places the marker in the middle of the third row.
	exampleOffset = 400
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// skipHeap skips heap initialization.
	skipHeap bool

	// metrics is where paging counters are written after boot. Empty
	// disables the export, "-" writes them to stdout.
	metrics string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the machine and run the paging demo"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boots the machine, probes translations, maps a page
onto the VGA buffer and sets up the kernel heap.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.skipHeap, "skip-heap", false, "do not initialize the kernel heap.")
	f.StringVar(&b.metrics, "metrics", "", "write paging counters in Prometheus format to this file after boot, or to stdout if '-'.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := b.run(conf, os.Stdout); err != nil {
		Fatalf("boot failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (b *Boot) run(conf *config.Config, out io.Writer) error {
	s, err := bootMachine(conf)
	if err != nil {
		return err
	}
	defer s.close()

	info := s.machine.BootInfo()
	fmt.Fprintf(out, "physical memory offset: %v\n", info.PhysicalMemoryOffset)
	writeRegions(out, info.MemoryMap)

	// The frame allocator owns the usable frames from here on.
	alloc := pgalloc.NewBootInfoAllocator(info.MemoryMap)

	kernel := s.desc.MachineConfig()
	probes := []hostarch.Addr{
		// The identity-mapped VGA buffer.
		hostarch.Addr(machine.VGABuffer),
		// Some code page.
		kernel.KernelVirt + 0x1008,
		// Some stack page.
		kernel.StackVirt + 0x1a10,
		// Physical address 0.
		info.PhysicalMemoryOffset,
	}
	for _, addr := range probes {
		writeTranslation(out, s.mapper, addr)
	}

	// Map an unused page onto the VGA buffer and write through it.
	page := hostarch.PageContaining(exampleAddr)
	vga, _ := hostarch.FrameFromStart(machine.VGABuffer)
	if err := s.mapper.Map(page, vga, pagetables.MapOpts{AccessType: hostarch.ReadWrite, MemoryType: hostarch.MemoryTypeUncached}, alloc); err != nil {
		return fmt.Errorf("example mapping: %w", err)
	}
	if err := s.machine.CPU().WriteUint64(page.Start()+exampleOffset, exampleMarker); err != nil {
		return fmt.Errorf("writing through example mapping: %w", err)
	}
	row, err := s.machine.VGAText(exampleOffset / (2 * machine.VGAColumns))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "vga: %q\n", row)

	if !b.skipHeap {
		if err := initHeap(out, s, alloc); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "frames: %d allocated, %d remaining\n", alloc.Allocated(), alloc.Remaining())
	if b.metrics != "" {
		if err := writeMetrics(b.metrics, out, s, alloc); err != nil {
			return err
		}
	}
	log.Infof("boot complete")
	return nil
}

// initHeap maps the heap and exercises it with a few allocations.
func initHeap(out io.Writer, s *session, alloc pgalloc.FrameAllocator) error {
	h, err := kheap.Init(s.mapper, alloc, hostarch.Addr(s.desc.Heap.Start), uint64(s.desc.Heap.Size))
	if err != nil {
		return fmt.Errorf("heap initialization: %w", err)
	}
	fmt.Fprintf(out, "heap: [%v, %v) %d KiB\n", h.Start(), h.End(), h.Size()>>10)

	cpu := s.machine.CPU()
	bump := kheap.NewBumpAllocator(h)
	boxed, err := bump.Alloc(8, 8)
	if err != nil {
		return err
	}
	if err := cpu.WriteUint64(boxed, 41); err != nil {
		return fmt.Errorf("heap write: %w", err)
	}
	vec, err := bump.Alloc(500*8, 8)
	if err != nil {
		return err
	}
	var sum uint64
	for i := uint64(0); i < 500; i++ {
		if err := cpu.WriteUint64(vec+hostarch.Addr(i*8), i); err != nil {
			return fmt.Errorf("heap write: %w", err)
		}
	}
	for i := uint64(0); i < 500; i++ {
		v, err := cpu.ReadUint64(vec + hostarch.Addr(i*8))
		if err != nil {
			return fmt.Errorf("heap read: %w", err)
		}
		sum += v
	}
	v, err := cpu.ReadUint64(boxed)
	if err != nil {
		return fmt.Errorf("heap read: %w", err)
	}
	fmt.Fprintf(out, "heap: box at %v holds %d, vec at %v sums to %d, %d bytes free\n", boxed, v, vec, sum, bump.Available())
	return nil
}
