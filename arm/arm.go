// ARMv7-M (Cortex-M4) core support
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arm provides the Cortex-M4 core primitives the kernel depends on:
// exception vectors, the MPU, NVIC, SysTick, the DWT cycle counter and the
// handful of CPU intrinsics (PSP/CONTROL, barriers, WFI) that only exist as
// inline assembly on real silicon. These are architectural (ARMv7-M) rather
// than SoC-specific, mirroring the split the reference runtime this module
// is grounded on draws between its core package and its per-vendor soc
// packages.
package arm

// CPU represents the executing core and its privilege/stack state.
type CPU struct {
	features features
}

// Init probes core features (CPUID fields, FPU presence) once at boot.
func (cpu *CPU) Init() {
	cpu.features.init()
}
