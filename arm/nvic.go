// ARMv7-M Nested Vectored Interrupt Controller
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arm

// NVIC register block (ARMv7-M Architecture Reference Manual, B3.4). Each
// register is banked every 32 IRQ lines.
const (
	NVIC_ISER0 = 0xe000e100
	NVIC_ICER0 = 0xe000e180
	NVIC_ISPR0 = 0xe000e200
	NVIC_ICPR0 = 0xe000e280
	NVIC_IPR0  = 0xe000e400

	NVIC_AIRCR         = 0xe000ed0c
	NVIC_AIRCR_VECTKEY = 0x05fa0000
	NVIC_AIRCR_SYSRESETREQ = 1 << 2
)

func bankOffset(irq int) (reg uint32, bit uint32) {
	return uint32(irq / 32), uint32(irq % 32)
}

// EnableIRQ unmasks an external interrupt line (0-based, i.e. NVIC numbering
// without the 16-entry core exception offset).
func EnableIRQ(irq int) {
	bank, bit := bankOffset(irq)
	write_reg32(NVIC_ISER0+4*bank, 1<<bit)
}

// DisableIRQ masks an external interrupt line.
func DisableIRQ(irq int) {
	bank, bit := bankOffset(irq)
	write_reg32(NVIC_ICER0+4*bank, 1<<bit)
}

// ClearPendingIRQ clears a line's pending bit, used once per delivered user
// IRQ before it is handed to the softirq queue (§4.5).
func ClearPendingIRQ(irq int) {
	bank, bit := bankOffset(irq)
	write_reg32(NVIC_ICPR0+4*bank, 1<<bit)
}

// SetPendingIRQ artificially pends a line. No kernel package calls it.
func SetPendingIRQ(irq int) {
	bank, bit := bankOffset(irq)
	write_reg32(NVIC_ISPR0+4*bank, 1<<bit)
}

// SystemReset requests a full core/peripheral reset (the RESET syscall).
// This call never returns.
func SystemReset() {
	write_reg32(NVIC_AIRCR, NVIC_AIRCR_VECTKEY|NVIC_AIRCR_SYSRESETREQ)
	data_sync_barrier()
	for {
		wait_for_interrupt()
	}
}
