// STM32F407/F439 SoC driver
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package stm32f4 implements platform.Driver for the STM32F407/F439
// family (Cortex-M4, the reference target board being a 32F407 or 32F439
// Discovery kit). Register layout follows the RM0090 reference manual;
// addresses are grouped the way soc/imx6 in the reference runtime groups
// its own peripheral base addresses, one file per peripheral block.
package stm32f4

import (
	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/platform"
)

// Core bus base addresses (RM0090 §2.3).
const (
	PeriphBase     = 0x40000000
	APB1PeriphBase = PeriphBase
	APB2PeriphBase = PeriphBase + 0x00010000
	AHB1PeriphBase = PeriphBase + 0x00020000
	AHB2PeriphBase = PeriphBase + 0x10000000
)

// Driver ties every peripheral block into the platform.Driver contract.
// A board constructs exactly one Driver at boot and hands it to the
// kernel Executive. Register offsets stay private to this package; the
// bus base addresses, clock-gate and EXTI IRQ constants, Console and
// Driver.SysTickTick are exported for board code, mirroring how soc/imx6
// exposes a USB/I2C/UART surface but keeps register constants private.
type Driver struct {
	systick arm.SysTick
	dwt     arm.DWT
}

// NewDriver constructs an uninitialized STM32F4 driver. Call SetSysclock
// and SysTickInit before relying on timing.
func NewDriver() *Driver {
	return &Driver{}
}

var _ platform.Driver = (*Driver)(nil)
