// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import (
	"github.com/ewok-project/ewok-kernel/internal/reg"
	"github.com/ewok-project/ewok-kernel/platform"
)

// RNG register block (RM0090 §24.4).
const (
	rngBase = AHB2PeriphBase + 0x60800
	rngCR   = rngBase + 0x00
	rngSR   = rngBase + 0x04
	rngDR   = rngBase + 0x08

	rngCR_RNGEN = 1 << 2
	rngSR_DRDY  = 1 << 0
	rngSR_CEIS  = 1 << 5
	rngSR_SEIS  = 1 << 6
)

var rngEnabled bool

// TRNGWord runs the true random number generator once, following the
// error handling the original kernel's soc_rng_manager implements: a
// clock error clears CEIS and asks the caller to retry, and a seed error
// toggles RNGEN off/on and asks the caller to retry. The first call only
// enables the RNG clock and RNGEN and reports not-ready without reading a
// word.
func (d *Driver) TRNGWord() (uint32, platform.TRNGResult) {
	if !rngEnabled {
		d.ClockEnable(ClockRNG)
		reg.Set(rngCR, 2) // RNGEN
		rngEnabled = true
		return 0, platform.TRNGNotReady
	}

	sr := reg.Read(rngSR)

	if sr&rngSR_CEIS != 0 {
		reg.Clear(rngSR, 5) // CEIS is rc_w0
		return 0, platform.TRNGClockError
	}

	if sr&rngSR_SEIS != 0 {
		reg.Clear(rngSR, 6) // SEIS is rc_w0
		reg.Clear(rngCR, 2)
		reg.Set(rngCR, 2)
		return 0, platform.TRNGSeedError
	}

	if sr&rngSR_DRDY == 0 {
		return 0, platform.TRNGNotReady
	}

	return reg.Read(rngDR), platform.TRNGOk
}
