// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

import (
	"unsafe"

	"github.com/ewok-project/ewok-kernel/arm"
)

// frame is the ARMv7-M hardware-stacked exception frame (ARMv7-M ARM
// B1.5.6): the eight words the core pushes on exception entry and pops on
// exception return, built by hand here for a task's very first dispatch
// since no real exception ever happened to push it.
type frame struct {
	R0, R1, R2, R3 uint32
	R12            uint32
	LR             uint32
	PC             uint32
	XPSR           uint32
}

// defaultXPSR sets only the Thumb bit (T-bit, bit 24); every ARMv7-M
// handler must resume in Thumb state or take a usage fault immediately.
const defaultXPSR = uint32(1) << 24

// BuildInitialFrame writes an 8-word exception frame at the top of
// [stackTop-frameSize, stackTop) so that popping it (via exception return)
// lands at entry with r0 == arg. LR is set to entry as well, so a task
// function that returns starts again at its own entry point.
//
// It returns the resulting stack pointer value to program into PSP (main
// thread) or to stash as the ISR-thread's saved SP (ISR thread, before it
// has ever run).
func BuildInitialFrame(stackTop uint32, entry uint32, arg uint32) uint32 {
	sp := stackTop - uint32(unsafe.Sizeof(frame{}))
	f := (*frame)(unsafe.Pointer(uintptr(sp)))

	*f = frame{
		R0:   arg,
		PC:   entry &^ 1, // thumb bit lives in EPSR.T, not PC bit 0
		LR:   entry,      // a task returning jumps back to its own entry
		XPSR: defaultXPSR,
	}

	return sp
}

// ReturnValue is the EXC_RETURN every user task (main thread or ISR
// thread) resumes with: thread mode, PSP.
const ReturnValue = arm.ReturnToThreadPSP

// ReadSyscallArgs returns the four argument registers stacked at sp: r0
// carries the syscall number (§4.7, softirq.c's svc decode), r1..r3 up
// to three scalar or in-slot-pointer arguments.
func ReadSyscallArgs(sp uint32) (r0, r1, r2, r3 uint32) {
	f := (*frame)(unsafe.Pointer(uintptr(sp)))
	return f.R0, f.R1, f.R2, f.R3
}

// WriteReturnValue writes a syscall's uniform result code into r0 of the
// frame saved at sp (§6, §7: "written into r0 of the caller's saved
// frame").
func WriteReturnValue(sp uint32, val uint32) {
	f := (*frame)(unsafe.Pointer(uintptr(sp)))
	f.R0 = val
}

// BuildISRFrame writes the ISR-thread's initial frame at the top of the
// shared ISR stack, with r0..r3 set to the four parameters the task's
// fixed ISR entry trampoline expects (softirq.c's do_startisr wrapper:
// handler, irq-16, status, data).
func BuildISRFrame(stackTop, entry, handler, irqRelative, status, data uint32) uint32 {
	sp := stackTop - uint32(unsafe.Sizeof(frame{}))
	f := (*frame)(unsafe.Pointer(uintptr(sp)))

	*f = frame{
		R0:   handler,
		R1:   irqRelative,
		R2:   status,
		R3:   data,
		PC:   entry &^ 1,
		LR:   entry,
		XPSR: defaultXPSR,
	}

	return sp
}
