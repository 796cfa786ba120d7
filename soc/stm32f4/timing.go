// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

func (d *Driver) SysTickInit(reload uint32) { d.systick.Init(reload) }
func (d *Driver) SysTickGetTicks() uint64   { return d.systick.Ticks() }

func (d *Driver) DWTInit()             { d.dwt.Init() }
func (d *Driver) DWTGetCycles() uint32 { return d.dwt.Cycles() }
func (d *Driver) DWTGetCycles64() uint64 { return d.dwt.Cycles64() }

// SysTickTick is not part of platform.Driver; it is called directly by the
// board's installed SysTick exception handler on every period, outside
// the kernel core's abstraction boundary because it must run with
// minimal latency in handler mode.
func (d *Driver) SysTickTick() { d.systick.Tick() }

