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
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/kpaging/kboot/config"
	"gvisor.dev/kpaging/pkg/bootinfo"
)

// Regions implements subcommands.Command for the "regions" command.
type Regions struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Regions) Name() string {
	return "regions"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regions) Synopsis() string {
	return "print the boot memory map"
}

// Usage implements subcommands.Command.Usage.
func (*Regions) Usage() string {
	return "regions [flags] - prints the memory map the bootloader hands to the kernel.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regions) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.format, "format", "text", "output format: text or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (r *Regions) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := r.run(conf, os.Stdout); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (r *Regions) run(conf *config.Config, out io.Writer) error {
	s, err := bootMachine(conf)
	if err != nil {
		return err
	}
	defer s.close()

	memoryMap := s.machine.BootInfo().MemoryMap
	switch r.format {
	case "text":
		writeRegions(out, memoryMap)
		return nil
	case "yaml":
		return writeRegionsYAML(out, memoryMap)
	default:
		return fmt.Errorf("invalid format %q, must be 'text' or 'yaml'", r.format)
	}
}

// writeRegions prints the memory map as a table.
func writeRegions(out io.Writer, m *bootinfo.MemoryMap) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "START\tEND\tTYPE\tSIZE\n")
	for _, r := range m.Regions() {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%d KiB\n", r.Start, r.End, r.Type, r.Length()>>10)
	}
	tw.Flush()
	fmt.Fprintf(out, "usable: %d frames (%d KiB)\n", m.UsableFrames(), m.UsableBytes()>>10)
}

type yamlRegion struct {
	Start string              `yaml:"start"`
	End   string              `yaml:"end"`
	Type  bootinfo.RegionType `yaml:"type"`
}

type yamlMemoryMap struct {
	Regions      []yamlRegion `yaml:"regions"`
	UsableFrames uint64       `yaml:"usable-frames"`
}

// writeRegionsYAML prints the memory map as a YAML document.
func writeRegionsYAML(out io.Writer, m *bootinfo.MemoryMap) error {
	doc := yamlMemoryMap{UsableFrames: m.UsableFrames()}
	for _, r := range m.Regions() {
		doc.Regions = append(doc.Regions, yamlRegion{
			Start: r.Start.String(),
			End:   r.End.String(),
			Type:  r.Type,
		})
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
