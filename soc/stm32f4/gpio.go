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

// GPIO register block, one per port (RM0090 §8.4). Each port base is
// PortBase + 0x400*port, port 0 == GPIOA.
const (
	gpioBase = AHB1PeriphBase

	gpioMODER   = 0x00
	gpioOTYPER  = 0x04
	gpioOSPEEDR = 0x08
	gpioPUPDR   = 0x0c
	gpioIDR     = 0x10
	gpioODR     = 0x14
	gpioBSRR    = 0x18
	gpioAFRL    = 0x20
	gpioAFRH    = 0x24

	maxGPIOPort = 8 // GPIOA..GPIOI
	maxGPIOPin  = 15
)

func portBase(port int) uint32 {
	return gpioBase + uint32(port)*0x400
}

// GPIOConfigure programs mode, output type, speed, pull and alternate
// function for a single pin, gating the port's clock first. This mirrors
// the original kernel's single-call dev_gpio_info_t contract: userspace
// declares intent, the kernel performs the actual register writes.
func (d *Driver) GPIOConfigure(cfg platform.GPIOConfig) error {
	if cfg.Port < 0 || cfg.Port > maxGPIOPort {
		return fmt.Errorf("stm32f4: invalid gpio port %d", cfg.Port)
	}
	if cfg.Pin < 0 || cfg.Pin > maxGPIOPin {
		return fmt.Errorf("stm32f4: invalid gpio pin %d", cfg.Pin)
	}

	d.ClockEnable(gpioClockBit(cfg.Port))

	base := portBase(cfg.Port)

	reg.SetN(base+gpioMODER, cfg.Pin*2, 0x3, uint32(cfg.Mode))
	reg.SetN(base+gpioOSPEEDR, cfg.Pin*2, 0x3, uint32(cfg.Speed))
	reg.SetN(base+gpioPUPDR, cfg.Pin*2, 0x3, uint32(cfg.PuPd))

	if cfg.Type == platform.GPIOTypeOpenDrain {
		reg.Set(base+gpioOTYPER, cfg.Pin)
	} else {
		reg.Clear(base+gpioOTYPER, cfg.Pin)
	}

	if cfg.Mode == platform.GPIOModeAlternate {
		if cfg.Pin < 8 {
			reg.SetN(base+gpioAFRL, cfg.Pin*4, 0xf, uint32(cfg.AF))
		} else {
			reg.SetN(base+gpioAFRH, (cfg.Pin-8)*4, 0xf, uint32(cfg.AF))
		}
	}

	return nil
}

// GPIOSet drives a pin high or low through the atomic bit-set/reset
// register, avoiding a read-modify-write race with any concurrent ODR
// access.
func (d *Driver) GPIOSet(port, pin int, high bool) {
	base := portBase(port)

	if high {
		reg.Write(base+gpioBSRR, 1<<uint(pin))
	} else {
		reg.Write(base+gpioBSRR, 1<<uint(pin+16))
	}
}

// GPIOGet returns the input data register bit for a pin.
func (d *Driver) GPIOGet(port, pin int) bool {
	return reg.Get(portBase(port)+gpioIDR, pin, 1) == 1
}
