// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import "github.com/ewok-project/ewok-kernel/arm"

// NVIC, MPU, SysTick and DWT are core ARMv7-M peripherals rather than
// SoC-specific ones; the Driver simply forwards to package arm, which is
// where the register layout and barrier discipline live.

func (d *Driver) NVICEnable(irq int)       { arm.EnableIRQ(irq) }
func (d *Driver) NVICDisable(irq int)      { arm.DisableIRQ(irq) }
func (d *Driver) NVICClearPending(irq int) { arm.ClearPendingIRQ(irq) }
func (d *Driver) SystemReset()             { arm.SystemReset() }
