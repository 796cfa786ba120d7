// ARMv7-M Memory Protection Unit
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arm

import "fmt"

// MPU register block (ARMv7-M Architecture Reference Manual, B3.5).
const (
	MPU_TYPE = 0xe000ed90
	MPU_CTRL = 0xe000ed94
	MPU_RNR  = 0xe000ed98
	MPU_RBAR = 0xe000ed9c
	MPU_RASR = 0xe000eda0

	MPU_CTRL_ENABLE     = 1 << 0
	MPU_CTRL_HFNMIENA   = 1 << 1
	MPU_CTRL_PRIVDEFENA = 1 << 2

	MPU_RASR_ENABLE = 1 << 0
	MPU_RASR_XN     = 1 << 28
	MPU_RASR_B      = 1 << 16
	MPU_RASR_S      = 1 << 18

	// NumRegions is the number of MPU regions this kernel programs: R0
	// (shared boot info) through R7 (dynamically mapped device window),
	// per §4.1.
	NumRegions = 8
)

// AccessPerm is the MPU AP[2:0] field (Table B3-15).
type AccessPerm uint32

const (
	AccessNoAccess  AccessPerm = 0x0
	AccessPrivRW    AccessPerm = 0x1 // privileged RW, unprivileged none
	AccessPrivRWUnprivRO AccessPerm = 0x2
	AccessFullRW    AccessPerm = 0x3 // privileged and unprivileged RW
	AccessPrivRO    AccessPerm = 0x5
	AccessFullRO    AccessPerm = 0x6
)

func write_reg32(addr uint32, val uint32)

// RegionConfig describes one MPU region program, matching the original
// kernel's `region_config` structure field-for-field (region_number, addr,
// size, access_perm, xn, b, s, mask).
type RegionConfig struct {
	Number int
	Base   uint32
	// Size is the region size in bytes; must be a power of two in
	// [32, 1<<32] and Base must be a multiple of Size (ARMv7-M alignment
	// rule). A Size of 1<<32 (4 GiB) implies Base == 0.
	Size uint64
	Perm AccessPerm
	XN   bool // execute-never
	B    bool // bufferable
	S    bool // shareable
	// SRD is the 8-bit subregion-disable mask (§4.1); each bit disables
	// one eighth of the region.
	SRD uint8
}

// sizeField encodes a byte size into the ARMv7-M RASR SIZE field
// (region size = 2^(SIZE+1) bytes, §B3.5.8). Returns ok=false if size is
// not a supported power of two.
func sizeField(size uint64) (field uint32, ok bool) {
	if size < 32 {
		return 0, false
	}

	for n := uint32(4); n <= 31; n++ {
		if size == uint64(1)<<(n+1) {
			return n, true
		}
	}

	// 4 GiB is represented as SIZE=31 with the whole address space.
	if size == 1<<32 {
		return 31, true
	}

	return 0, false
}

// aligned reports whether base satisfies the ARMv7-M rule that a region's
// base address be a multiple of its size.
func aligned(base uint32, size uint64) bool {
	if size >= 1<<32 {
		return base == 0
	}
	return uint64(base)%size == 0
}

// ConfigureRegion programs one MPU region. It returns an error (never a
// panic) on a rejected base/size combination so that callers — the Memory
// Protection Manager — can log and continue per §4.1's failure mode: the
// owning task merely faults on first access instead of crashing the
// kernel.
func ConfigureRegion(cfg RegionConfig) error {
	if cfg.Number < 0 || cfg.Number >= NumRegions {
		return fmt.Errorf("mpu: invalid region number %d", cfg.Number)
	}

	size, ok := sizeField(cfg.Size)
	if !ok {
		return fmt.Errorf("mpu: unsupported region size %d", cfg.Size)
	}

	if !aligned(cfg.Base, cfg.Size) {
		return fmt.Errorf("mpu: base %#x misaligned for size %d", cfg.Base, cfg.Size)
	}

	write_reg32(MPU_RNR, uint32(cfg.Number))
	write_reg32(MPU_RBAR, cfg.Base)

	rasr := uint32(cfg.Perm) << 24
	rasr |= size << 1
	rasr |= uint32(cfg.SRD) << 8
	rasr |= MPU_RASR_ENABLE

	if cfg.XN {
		rasr |= MPU_RASR_XN
	}
	if cfg.B {
		rasr |= MPU_RASR_B
	}
	if cfg.S {
		rasr |= MPU_RASR_S
	}

	write_reg32(MPU_RASR, rasr)

	return nil
}

// DisableRegion clears a region's enable bit without touching its other
// fields, used to blank a previous task's free/device region (§4.1 step 2
// and 3: "disable the remaining free regions so that a previous task's
// device window does not leak through").
func DisableRegion(number int) error {
	if number < 0 || number >= NumRegions {
		return fmt.Errorf("mpu: invalid region number %d", number)
	}

	write_reg32(MPU_RNR, uint32(number))
	write_reg32(MPU_RASR, 0)

	return nil
}

// Enable turns the MPU on or off. PRIVDEFENA is always asserted so that
// privileged kernel code retains its default background-region mapping
// when executing in regions the 8 explicit slots do not cover.
func Enable(on bool) {
	if !on {
		write_reg32(MPU_CTRL, 0)
		return
	}

	write_reg32(MPU_CTRL, MPU_CTRL_ENABLE|MPU_CTRL_HFNMIENA|MPU_CTRL_PRIVDEFENA)
}
