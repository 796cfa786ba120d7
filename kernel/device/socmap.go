// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package device

import (
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/platform"
)

// SocMapEntry is one row of the compile-time SoC device map
// (soc-devmap.c's soc_devices_list): the address/size a user device
// descriptor must match exactly, the permission class required to claim
// it, and the RCC clock gate the registrar activates on success. The
// board package builds the concrete table (it alone knows the SoC's
// platform.ClockDevice identifiers); the registrar only ever looks entries
// up by (address, size).
type SocMapEntry struct {
	Name    string
	Address uint32
	Size    uint32
	Class   perm.Bits
	Clock   platform.ClockDevice

	// ReadOnly marks a device family the registrar only ever maps
	// privileged-RW/unprivileged-RO (mpu.c's RO_USER_DEV region type),
	// e.g. a status/ID register block no task may write.
	ReadOnly bool
}

// SocMap finds the device map entry matching (addr, size), mirroring
// soc_devmap_find_device's exact address-and-size match (not a
// containment check — a user device must declare precisely what the
// board map says it is).
func findSocEntry(socMap []SocMapEntry, addr, size uint32) *SocMapEntry {
	for i := range socMap {
		if socMap[i].Address == addr && socMap[i].Size == size {
			return &socMap[i]
		}
	}
	return nil
}
