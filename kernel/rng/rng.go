// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rng implements the kernel's entropy source (§6 GET_RANDOM,
// §4.8's RAND scheduling policy): a thin wrapper over platform.Driver's
// hardware TRNG that retries past transient clock/seed errors and falls
// back to a deterministic generator rather than ever blocking forever,
// grounded on the reference runtime's soc rng drivers (rngb.Init's
// self-test/reseed retry loop) and internal/rng's getLCGData fallback.
package rng

import (
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/platform"
)

// MaxRetries bounds the number of transient-error retries before Word
// falls back to the LCG (soc rng drivers spin on SR_SDN/SR_STDN, but a
// kernel scheduling path can't afford to spin indefinitely on a busy
// hardware TRNG).
const MaxRetries = 8

// Source wraps a platform.Driver's TRNG, filtered against its own
// transient-error taxonomy, with a deterministic fallback for when the
// hardware genuinely cannot produce a word.
type Source struct {
	p   platform.Driver
	log *klog.Logger

	lcg uint32
}

// NewSource returns a Source bound to the board's TRNG.
func NewSource(p platform.Driver, log *klog.Logger) *Source {
	return &Source{p: p, log: log, lcg: 0x2545f491}
}

// Word returns one 32-bit entropy word, used directly for GET_RANDOM and
// by the scheduler's RAND policy to pick among runnable tasks.
func (s *Source) Word() uint32 {
	for i := 0; i < MaxRetries; i++ {
		w, res := s.p.TRNGWord()
		switch res {
		case platform.TRNGOk:
			return w
		case platform.TRNGSeedError, platform.TRNGClockError, platform.TRNGNotReady:
			continue
		}
	}

	s.log.Warn("rng: TRNG unavailable after %d attempts, falling back to LCG", MaxRetries)
	return s.lcgWord()
}

// lcgWord implements the same linear congruential generator as the
// reference runtime's internal/rng.GetLCGData. Its state starts from the
// fixed seed NewSource sets and no TRNG output is mixed in, so every
// Source yields the same fallback sequence.
func (s *Source) lcgWord() uint32 {
	s.lcg = 1103515245*s.lcg + 12345
	return s.lcg
}
