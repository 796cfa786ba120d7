// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package device implements the Device/IRQ/GPIO Registrar (§4.3): it
// validates a user-supplied device descriptor against the compile-time
// SoC device map and the caller's permissions, installs IRQ cells and
// GPIO/EXTI ownership, and (in handler mode) runs a registered device's
// posthook program ahead of deferring its ISR to the softirq thread.
package device

import (
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// MapMode selects whether a device's MPU window is always present while
// its owner's main thread runs (Auto) or must be explicitly requested via
// CFG_DEV_MAP/UNMAP (Voluntary, §4.7).
type MapMode int

const (
	Auto MapMode = iota
	Voluntary
)

// HandlerKind tags whether an IRQ cell's handler runs inline in handler
// mode (kernel-owned) or is deferred to the owner's ISR-thread mode
// (user-owned) — the tagged-variant replacement for the original's
// function-pointer union (§9).
type HandlerKind int

const (
	HandlerKernel HandlerKind = iota
	HandlerUser
)

// IRQMode flags a user IRQ descriptor whose deferred delivery must force
// the owning task's main thread to run next, rather than letting the
// scheduler's normal election pick among runnable tasks (§4.8 step 3,
// GLOSSARY "FORCE_MAINTHREAD").
type IRQMode int

const (
	ModeStandard IRQMode = iota
	ModeForceMainthread
)

const (
	// MaxIRQsPerDevice and MaxGPIOsPerDevice bound a descriptor's arrays
	// (§8 boundary behavior: num_irqs > 4 or num_gpios > 16 -> INVAL).
	MaxIRQsPerDevice  = 4
	MaxGPIOsPerDevice = 16

	// MinUserIRQ/MaxUserIRQ bound the IRQ numbers a user device may claim;
	// below MinUserIRQ are core-reserved vectors (SysTick, PendSV, faults).
	MinUserIRQ = 16
	MaxUserIRQ = 90
)

// IRQDescriptor is one entry of a device's posthook-bearing IRQ array
// (§3 "IRQ Cell" + "IRQ Posthook Program").
type IRQDescriptor struct {
	IRQ     int
	Handler uint32 // entry point in the owner's text/rodata slot
	Mode    IRQMode
	Program Program
}

// GPIODescriptor is one entry of a device's GPIO array (§3 "GPIO
// Reference").
type GPIODescriptor struct {
	Port int
	Pin  int

	Mode  int
	Type  int
	Speed int
	PuPd  int
	AF    int

	UseEXTI bool
	Trigger int // platform.EXTITrigger value

	// Locked marks the EXTI line masked until an explicit
	// CFG_GPIO_UNLOCK_EXTI (§4.5).
	Locked bool

	// Callback, if non-zero, must point into the owner's text slot
	// (§4.3 step 3's GPIO EXTI callback check).
	Callback uint32
}

// State is a device's registration lifecycle (§4.3 step 5).
type State int

const (
	StateUnused State = iota
	StateRegistered
	StateEnabled
)

// Device is the kernel-resident, sanitized copy of a user device
// descriptor (§3 "Device (device_t)").
type Device struct {
	Slot  int
	State State

	Owner   task.ID
	Name    string
	Address uint32
	Size    uint32

	MapMode  MapMode
	IsMapped bool

	IRQs    [MaxIRQsPerDevice]IRQDescriptor
	NumIRQs int

	GPIOs    [MaxGPIOsPerDevice]GPIODescriptor
	NumGPIOs int

	// Clock is the RCC gate recorded from the SoC map at registration
	// time and activated by EnableRegistered at init(DONE) (§4.3 step 5).
	Clock platform.ClockDevice

	// ReadOnly mirrors the SoC map entry's ReadOnly flag, consulted by
	// the scheduler when building this device's MPU window.
	ReadOnly bool
}
