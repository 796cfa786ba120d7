// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rng implements the degraded-entropy fallback used when the
// STM32F4 hardware TRNG reports a clock or seed error that persists past
// its retry budget. It is never the primary source: kernel/rng prefers
// the silicon TRNG and only falls back here, logging the degradation.
package rng

import "time"

var lcg uint32

// GetLCGData implements a Linear Congruential Generator
// (https://en.wikipedia.org/wiki/Linear_congruential_generator). It is not
// cryptographically secure; it exists solely so GET_RANDOM degrades to
// something rather than blocking forever when the TRNG is unusable.
func GetLCGData(b []byte) {
	if lcg == 0 {
		lcg = uint32(time.Now().UnixNano())
	}

	read := 0
	need := len(b)

	for read < need {
		lcg = (1103515245*lcg + 12345) % (1 << 31)
		read = fill(b, read, lcg)
	}
}

func fill(b []byte, index int, val uint32) int {
	shift := 0
	limit := len(b)

	for (index < limit) && (shift <= 24) {
		b[index] = byte((val >> shift) & 0xff)
		index++
		shift += 8
	}

	return index
}
