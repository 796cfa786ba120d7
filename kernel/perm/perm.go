// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package perm defines the static per-task permission bitmask the
// registrar, DMA arbiter and syscall dispatcher gate registration and
// nominal-phase requests against. The original kernel encodes these as a
// compile-time-generated C bitfield per task (one bit per device class
// plus a handful of kernel-capability bits); here they are a single
// uint32 set once in the board's static task layout and never mutated at
// runtime.
package perm

// Bits is a bitmask of permission grants held by a task for its entire
// lifetime (assigned at the static boot layout, §6 "Boot-info contract").
type Bits uint32

const (
	// Per device-class bits, gating register_device for that SoC device
	// family (§4.3 step 2: "the task holds the minimum permission bit for
	// the device class").
	GPIO Bits = 1 << iota
	USART
	EXTI
	DMA
	CRC
	RNG
	TIM
	CRYPTO

	// DynamicMap gates map_mode == VOLUNTARY at registration time.
	DynamicMap
	// ForceISR gates a user IRQ descriptor with mode == FORCE_MAINTHREAD.
	ForceISR
	// GetRandom gates the GET_RANDOM syscall.
	GetRandom
)

// Has reports whether b grants every bit set in want.
func (b Bits) Has(want Bits) bool {
	return b&want == want
}
