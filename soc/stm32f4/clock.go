// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import (
	"github.com/ewok-project/ewok-kernel/internal/reg"
	"github.com/ewok-project/ewok-kernel/platform"
)

// RCC register block (RM0090 §6.3).
const (
	rccBase = AHB1PeriphBase + 0x3800

	rccCR       = rccBase + 0x00
	rccPLLCFGR  = rccBase + 0x04
	rccCFGR     = rccBase + 0x08
	rccAHB1ENR  = rccBase + 0x30
	rccAHB2ENR  = rccBase + 0x34
	rccAPB1ENR  = rccBase + 0x40
	rccAPB2ENR  = rccBase + 0x44

	rccCR_HSEON  = 1 << 16
	rccCR_HSERDY = 1 << 17
	rccCR_PLLON  = 1 << 24
	rccCR_PLLRDY = 1 << 25

	rccCFGR_SW_PLL  = 0x2
	rccCFGR_SWS_Pos = 2
	rccCFGR_SWS_Msk = 0x3
)

// ClockDevice values encode (bus, enable-bit) so ClockEnable/ClockDisable
// stay table-driven instead of one switch arm per peripheral.
const (
	busAHB1 = iota
	busAHB2
	busAPB1
	busAPB2
)

func clockDevice(bus, bit uint32) platform.ClockDevice {
	return platform.ClockDevice(bus<<8 | bit)
}

// Peripheral clock gates this kernel exercises directly: the GPIO ports
// backing device GPIO declarations, the RNG (entropy), and DMA1/DMA2
// (the arbiter's two controllers).
var (
	ClockGPIOA = clockDevice(busAHB1, 0)
	ClockGPIOB = clockDevice(busAHB1, 1)
	ClockGPIOC = clockDevice(busAHB1, 2)
	ClockGPIOD = clockDevice(busAHB1, 3)
	ClockGPIOE = clockDevice(busAHB1, 4)
	ClockGPIOF = clockDevice(busAHB1, 5)
	ClockGPIOG = clockDevice(busAHB1, 6)
	ClockGPIOH = clockDevice(busAHB1, 7)
	ClockGPIOI = clockDevice(busAHB1, 8)
	ClockDMA1  = clockDevice(busAHB1, 21)
	ClockDMA2  = clockDevice(busAHB1, 22)
	ClockRNG   = clockDevice(busAHB2, 6)
	ClockSYSCFG = clockDevice(busAPB2, 14)
	ClockUSART2 = clockDevice(busAPB1, 17)
)

func gpioClockBit(port int) platform.ClockDevice {
	return clockDevice(busAHB1, uint32(port))
}

func (d *Driver) ClockEnable(device platform.ClockDevice) {
	bus, bit := uint32(device)>>8, uint32(device)&0xff
	d.setClockBit(bus, bit, true)
}

func (d *Driver) ClockDisable(device platform.ClockDevice) {
	bus, bit := uint32(device)>>8, uint32(device)&0xff
	d.setClockBit(bus, bit, false)
}

func (d *Driver) setClockBit(bus, bit uint32, enable bool) {
	var addr uint32

	switch bus {
	case busAHB1:
		addr = rccAHB1ENR
	case busAHB2:
		addr = rccAHB2ENR
	case busAPB1:
		addr = rccAPB1ENR
	case busAPB2:
		addr = rccAPB2ENR
	default:
		return
	}

	if enable {
		reg.Set(addr, int(bit))
	} else {
		reg.Clear(addr, int(bit))
	}
}

// SetSysclock brings SYSCLK up on the HSE+PLL path to 168MHz, the
// reference board frequency the original bootstrap documents. PLL
// multiplier/divider fields (M=8, N=336, P=2, Q=7) assume an 8MHz HSE
// crystal, standard on both the 32F407 and 32F439 Discovery boards.
func (d *Driver) SetSysclock(enableHSE, enablePLL bool) error {
	if enableHSE {
		reg.Set(rccCR, 16) // HSEON
		reg.Wait(rccCR, 17, 1, 1) // HSERDY
	}

	if enablePLL {
		const (
			pllM = 8
			pllN = 336
			pllP = 0 // PLLP = 2 encoded as 0b00
			pllQ = 7
			pllSrcHSE = 1 << 22
		)

		reg.Write(rccPLLCFGR, pllM|(pllN<<6)|(pllP<<16)|pllSrcHSE|(pllQ<<24))
		reg.Set(rccCR, 24) // PLLON
		reg.Wait(rccCR, 25, 1, 1) // PLLRDY

		reg.SetN(rccCFGR, 0, 0x3, rccCFGR_SW_PLL)
		reg.Wait(rccCFGR, rccCFGR_SWS_Pos, rccCFGR_SWS_Msk, rccCFGR_SW_PLL)
	}

	return nil
}
