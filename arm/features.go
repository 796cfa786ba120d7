// ARMv7-M core feature probing
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arm

// Cortex-M4 CPUID masks (ARMv7-M Architecture Reference Manual, CPUID
// register, B3.2.3).
const (
	CPUID_IMPLEMENTER_MASK uint32 = 0xff000000
	CPUID_VARIANT_MASK     uint32 = 0x00f00000
	CPUID_PARTNO_MASK      uint32 = 0x0000fff0
	CPUID_REVISION_MASK    uint32 = 0x0000000f

	CPUID_PARTNO_CORTEX_M4 uint32 = 0xc240
)

type features struct {
	implementer uint8
	variant     uint8
	partNo      uint16
	revision    uint8
	fpu         bool
}

// read_cpuid and fpu_present are implemented as platform intrinsics: on
// real silicon they read SCB->CPUID and probe CPACR/FPU_FPCCR respectively.
func read_cpuid() uint32
func fpu_present() bool

func (f *features) init() {
	id := read_cpuid()

	f.implementer = uint8((id & CPUID_IMPLEMENTER_MASK) >> 24)
	f.variant = uint8((id & CPUID_VARIANT_MASK) >> 20)
	f.partNo = uint16((id & CPUID_PARTNO_MASK) >> 4)
	f.revision = uint8(id & CPUID_REVISION_MASK)
	f.fpu = fpu_present()
}

// IsCortexM4 reports whether the probed core part number matches Cortex-M4.
func (f *features) IsCortexM4() bool {
	return f.partNo == uint16(CPUID_PARTNO_CORTEX_M4)
}
