// 32F407/32F439 Discovery board support
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package discovery

import (
	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/platform"
	"github.com/ewok-project/ewok-kernel/soc/stm32f4"

	_ "unsafe"
)

// SYSCLK frequency this board brings up through SetSysclock's fixed PLL
// configuration (8MHz HSE crystal -> 168MHz).
const SysclockHz = 168_000_000

var (
	cpu     arm.CPU
	driver  = stm32f4.NewDriver()
	console stm32f4.Console
)

// Driver returns the board's concrete platform.Driver, handed to
// kernel.Executive at boot.
func Driver() platform.Driver {
	return driver
}

// CPU returns the board's core primitive handle, used by the kernel's
// one-way scheduler hand-off and by the softirq thread's barrier calls.
func CPU() *arm.CPU {
	return &cpu
}

// Console returns the board's debug UART, wired to kernel/klog at boot.
func Console() *stm32f4.Console {
	return &console
}

// Init performs the lower level SoC bring-up that must run before any
// kernel package touches a register: core feature probe, SYSCLK, debug
// console, SysTick and DWT. It is the discovery board's analogue of the
// reference runtime's go:linkname runtime.hwinit hook.
//
//go:linkname Init runtime.hwinit
func Init() {
	cpu.Init()

	driver.SetSysclock(true, true)

	console.Init()

	driver.SysTickInit(SysclockHz/1000 - 1)
	driver.DWTInit()
}
