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

// Package hostarch contains address types and constants for the x86-64
// four-level paging model.
package hostarch

import "encoding/binary"

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the page and frame size in bytes.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the 2M huge page size.
	HugePageShift = 21

	// HugePageSize is the size of a 2M huge page.
	HugePageSize = 1 << HugePageShift

	// PageMask masks the in-page offset of an address.
	PageMask = PageSize - 1
)

// ByteOrder is the native byte order (little endian).
var ByteOrder = binary.LittleEndian
