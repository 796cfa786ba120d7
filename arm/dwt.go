// ARMv7-M Data Watchpoint and Trace cycle counter
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arm

// DWT/CoreDebug register block (ARMv7-M Architecture Reference Manual,
// C1.8). DEMCR lives in the System Control Block.
const (
	SCB_DEMCR = 0xe000edfc
	SCB_DEMCR_TRCENA = 1 << 24

	DWT_CTRL    = 0xe0001000
	DWT_CYCCNT  = 0xe0001004
	DWT_CTRL_CYCCNTENA = 1 << 0
)

// DWT tracks the free-running 32-bit cycle counter, widened to 64 bits by
// counting wraps. GETTICK(CYCLE) reads Cycles64; Cycles returns the raw
// 32-bit value.
type DWT struct {
	last uint32
	wraps uint64
}

// Init enables trace and starts the cycle counter from zero.
func (d *DWT) Init() {
	write_reg32(SCB_DEMCR, read_reg32(SCB_DEMCR)|SCB_DEMCR_TRCENA)
	write_reg32(DWT_CYCCNT, 0)
	write_reg32(DWT_CTRL, read_reg32(DWT_CTRL)|DWT_CTRL_CYCCNTENA)

	d.last = 0
	d.wraps = 0
}

// Cycles returns the raw, wrapping 32-bit cycle count.
func (d *DWT) Cycles() uint32 {
	return read_reg32(DWT_CYCCNT)
}

// Cycles64 returns a monotonically increasing 64-bit cycle count. It must
// be polled more often than once per 2^32 cycles (roughly 25 seconds at
// 168MHz) to detect each wrap; the scheduler's systick handler calls it
// once per tick, which easily satisfies that bound.
func (d *DWT) Cycles64() uint64 {
	cur := read_reg32(DWT_CYCCNT)
	if cur < d.last {
		d.wraps++
	}
	d.last = cur
	return d.wraps<<32 | uint64(cur)
}
