// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import "github.com/ewok-project/ewok-kernel/internal/reg"

// USART2 register block (RM0090 §19.6), the Discovery board's ST-LINK
// virtual COM port. Not part of platform.Driver: the board wires Console
// directly to kernel/klog as an io.Writer, the same way the original
// kernel's KERNLOG macro writes to a dedicated debug UART outside any
// syscall-reachable device.
const (
	usart2Base = APB1PeriphBase + 0x4400
	usartSR    = usart2Base + 0x00
	usartDR    = usart2Base + 0x04
	usartBRR   = usart2Base + 0x08
	usartCR1   = usart2Base + 0x0c

	usartSR_TXE  = 1 << 7
	usartCR1_UE  = 1 << 13
	usartCR1_TE  = 1 << 3
)

// Console is an io.Writer over USART2, polling TXE before each byte. It
// is not interrupt-driven: kernel log lines are rare enough (boot, fault
// dumps, device registration errors) that blocking the calling context is
// acceptable and matches the reference kernel's synchronous debug UART.
type Console struct{}

// Init enables USART2's clock and configures 115200 8N1 assuming the
// 42MHz APB1 clock that follows from SetSysclock's 168MHz SYSCLK.
func (c Console) Init() {
	reg.Set(rccAPB1ENR, 17) // USART2EN

	const baud115200At42MHz = 0x016d // mantissa 22, fraction 13: USARTDIV 22.8125, about 115068 baud
	reg.Write(usartBRR, baud115200At42MHz)
	reg.Write(usartCR1, usartCR1_UE|usartCR1_TE)
}

func (c Console) Write(p []byte) (int, error) {
	for _, b := range p {
		reg.Wait(usartSR, 7, 1, 1) // TXE
		reg.Write(usartDR, uint32(b))
	}
	return len(p), nil
}
