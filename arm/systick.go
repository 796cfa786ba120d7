// ARMv7-M SysTick timer
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arm

// SysTick register block (ARMv7-M Architecture Reference Manual, B3.3).
const (
	SYST_CSR   = 0xe000e010
	SYST_RVR   = 0xe000e014
	SYST_CVR   = 0xe000e018
	SYST_CALIB = 0xe000e01c

	SYST_CSR_ENABLE    = 1 << 0
	SYST_CSR_TICKINT   = 1 << 1
	SYST_CSR_CLKSOURCE = 1 << 2
)

// SysTick is a monotonic, millisecond-granularity tick counter driven by
// the SysTick exception. The scheduler's systick handler increments Ticks
// once per period; everything else (sleep expiry, GETTICK(MILLI)) reads
// it.
type SysTick struct {
	reload uint32
	ticks  uint64
}

// Init configures SysTick to fire every `reload+1` core clock cycles and
// enables its interrupt. reload is typically computed as
// (core clock Hz / 1000) - 1 for a 1ms period.
func (s *SysTick) Init(reload uint32) {
	s.reload = reload
	s.ticks = 0

	write_reg32(SYST_RVR, reload)
	write_reg32(SYST_CVR, 0)
	write_reg32(SYST_CSR, SYST_CSR_ENABLE|SYST_CSR_TICKINT|SYST_CSR_CLKSOURCE)
}

// Tick is called from the SysTick exception handler; it must not be called
// from anywhere else.
func (s *SysTick) Tick() {
	s.ticks++
}

// Ticks returns the number of elapsed SysTick periods since Init.
func (s *SysTick) Ticks() uint64 {
	return s.ticks
}

// MillisToTicks converts a millisecond duration to a tick count, assuming a
// 1ms SysTick period (the only period this kernel configures).
func MillisToTicks(ms uint32) uint64 {
	return uint64(ms)
}
