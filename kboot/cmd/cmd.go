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

// Package cmd holds implementations of the kboot commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/kpaging/kboot/config"
	"gvisor.dev/kpaging/pkg/log"
	"gvisor.dev/kpaging/pkg/machine"
	"gvisor.dev/kpaging/pkg/pagetables"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of kboot.
var ErrorLogger io.Writer

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	writeError(os.Stderr, msg)
	if ErrorLogger != nil {
		writeError(ErrorLogger, msg)
	}
	os.Exit(128)
}

func writeError(w io.Writer, msg string) {
	fmt.Fprintf(w, "kboot: %s\n", msg)
}

// session is a booted machine with the kernel's mapper over it.
type session struct {
	desc    config.Machine
	machine *machine.Machine
	mapper  *pagetables.Mapper
}

// bootMachine loads the machine description named by conf, boots it and
// takes ownership of its page tables.
func bootMachine(conf *config.Config) (*session, error) {
	desc, err := config.LoadMachine(conf.MachineFile)
	if err != nil {
		return nil, err
	}
	m, err := machine.New(desc.MachineConfig())
	if err != nil {
		return nil, fmt.Errorf("booting machine: %w", err)
	}
	mapper, err := pagetables.Init(m.CPU(), m.Window())
	if err != nil {
		m.Close()
		return nil, err
	}
	return &session{desc: desc, machine: m, mapper: mapper}, nil
}

// close releases the page tables and the machine.
func (s *session) close() {
	s.mapper.Release()
	if err := s.machine.Close(); err != nil {
		log.Warningf("closing machine: %v", err)
	}
}
