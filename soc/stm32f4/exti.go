// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import (
	"fmt"

	"github.com/ewok-project/ewok-kernel/internal/reg"
	"github.com/ewok-project/ewok-kernel/platform"
)

// EXTI and SYSCFG register blocks (RM0090 §9.3, §12.3). One EXTI line per
// pin number, whatever the port: GPIOA pin 3 and GPIOC pin 3 share line 3
// and cannot both be routed at once; EXTIConfig refuses a line that is
// already unmasked.
const (
	extiBase = APB2PeriphBase + 0x3c00
	extiIMR  = extiBase + 0x00
	extiRTSR = extiBase + 0x08
	extiFTSR = extiBase + 0x0c
	extiPR   = extiBase + 0x14

	syscfgBase   = APB2PeriphBase + 0x3800
	syscfgEXTICR = syscfgBase + 0x08 // EXTICR1..4 at +0x08..+0x14
)

func exticrReg(pin int) (addr uint32, pos int) {
	group := pin / 4
	return syscfgEXTICR + uint32(group)*4, (pin % 4) * 4
}

// EXTI IRQ numbers (NVIC numbering, i.e. vector - 16), grouping pins
// 0-4 one-per-line and pins 5-9/10-15 sharing a single IRQ each.
const (
	IRQEXTI0    = 6
	IRQEXTI1    = 7
	IRQEXTI2    = 8
	IRQEXTI3    = 9
	IRQEXTI4    = 10
	IRQEXTI9_5  = 23
	IRQEXTI15_10 = 40
)

func extiIRQForPin(pin int) int {
	switch {
	case pin == 0:
		return IRQEXTI0
	case pin == 1:
		return IRQEXTI1
	case pin == 2:
		return IRQEXTI2
	case pin == 3:
		return IRQEXTI3
	case pin == 4:
		return IRQEXTI4
	case pin >= 5 && pin <= 9:
		return IRQEXTI9_5
	default:
		return IRQEXTI15_10
	}
}

// EXTIConfig routes one EXTI line to a GPIO port and arms its trigger
// edge(s). It refuses to reconfigure a line that is already unmasked,
// since EXTI lines are shared across ports and only one owner may claim a
// given pin number at a time.
func (d *Driver) EXTIConfig(port, pin int, trigger platform.EXTITrigger) error {
	if pin < 0 || pin > maxGPIOPin {
		return fmt.Errorf("stm32f4: invalid exti pin %d", pin)
	}

	if reg.Get(extiIMR, pin, 1) == 1 {
		return fmt.Errorf("stm32f4: exti line %d already claimed", pin)
	}

	if trigger == platform.EXTITriggerNone {
		return nil
	}

	d.ClockEnable(ClockSYSCFG)

	addr, pos := exticrReg(pin)
	reg.SetN(addr, pos, 0xf, uint32(port))

	switch trigger {
	case platform.EXTITriggerRising:
		reg.Set(extiRTSR, pin)
	case platform.EXTITriggerFalling:
		reg.Set(extiFTSR, pin)
	case platform.EXTITriggerBoth:
		reg.Set(extiRTSR, pin)
		reg.Set(extiFTSR, pin)
	}

	return nil
}

// EXTIEnable unmasks a line in EXTI_IMR and enables its (possibly shared)
// NVIC vector.
func (d *Driver) EXTIEnable(pin int) {
	reg.Set(extiIMR, pin)
	d.NVICEnable(extiIRQForPin(pin))
}

// EXTIDisable masks the line only; the NVIC vector is left alone since
// other pins may still share it.
func (d *Driver) EXTIDisable(pin int) {
	reg.Clear(extiIMR, pin)
}

func (d *Driver) EXTIClearPending(pin int) {
	reg.Set(extiPR, pin)
}

// EXTIGetPendingLines returns, for a fired IRQ, the bitmask of pending
// pins it could represent (a single bit for EXTI0-4, up to five or six
// bits for the shared EXTI9_5/EXTI15_10 vectors). The interrupt pipeline's
// EXTI dispatcher scans this mask to synthesize one IRQ cell per pending
// pin.
func (d *Driver) EXTIGetPendingLines(irq int) uint32 {
	pr := reg.Read(extiPR)

	switch irq {
	case IRQEXTI0:
		return pr & (1 << 0)
	case IRQEXTI1:
		return pr & (1 << 1)
	case IRQEXTI2:
		return pr & (1 << 2)
	case IRQEXTI3:
		return pr & (1 << 3)
	case IRQEXTI4:
		return pr & (1 << 4)
	case IRQEXTI9_5:
		return pr & (0x1f << 5)
	case IRQEXTI15_10:
		return pr & (0x3f << 10)
	default:
		return 0
	}
}

// EXTIGetSyscfgPort returns which GPIO port currently owns a pin's EXTI
// line, without verifying the line was ever configured (callers check
// EXTIConfig's error return for that).
func (d *Driver) EXTIGetSyscfgPort(pin int) int {
	addr, pos := exticrReg(pin)
	return int(reg.Get(addr, pos, 0xf))
}
