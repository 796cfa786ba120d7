// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sanitize implements the generic syscall-argument pointer
// validation every syscall handler runs before touching task-supplied
// addresses (§4.7): does a user-supplied pointer+size land inside the
// calling task's own RAM slot, its .text/.rodata slot, its ISR-thread
// stack window, or one of its DMA-SHM grants. It never checks structural
// content (a device_t's field values, say) — only that the memory access
// itself cannot escape the caller's slot.
package sanitize

import (
	"github.com/ewok-project/ewok-kernel/kernel/task"
)

// ISRStackWindow is the kernel's single dedicated ISR-thread stack; every
// task's ISR-mode execution context shares it rather than owning its own
// (§4.2), so sanitize checks a pointer against this fixed window instead
// of a per-task range.
type ISRStackWindow struct {
	Top  uint32
	Size uint32
}

func (w ISRStackWindow) contains(ptr uint32) bool {
	return ptr >= w.Top-w.Size && ptr < w.Top
}

// Checker validates syscall pointer arguments against the task table and
// the kernel's fixed ISR stack window.
type Checker struct {
	tasks *task.Table
	isr   ISRStackWindow
}

// New returns a Checker bound to tasks and the board's ISR stack window.
func New(tasks *task.Table, isrStack ISRStackWindow) *Checker {
	return &Checker{tasks: tasks, isr: isrStack}
}

// IsPointerInSlot reports whether ptr (a scalar access, implicitly 4
// bytes) lies in caller's RAM slot, or — when mode is ISRThread — in the
// shared ISR stack window.
func (c *Checker) IsPointerInSlot(ptr uint32, caller task.ID, mode task.Mode) bool {
	t, err := c.tasks.Get(caller)
	if err != nil {
		return false
	}

	if ptr >= t.RAMSlotStart && ptr+4 <= t.RAMSlotEnd {
		return true
	}
	if mode == task.ISRThread && c.isr.contains(ptr) {
		return true
	}
	return false
}

// IsPointerInTxtSlot reports whether ptr (a scalar access) lies in
// caller's .text/.rodata slot.
func (c *Checker) IsPointerInTxtSlot(ptr uint32, caller task.ID) bool {
	t, err := c.tasks.Get(caller)
	if err != nil {
		return false
	}
	return ptr >= t.TxtSlotStart && ptr+4 <= t.TxtSlotEnd
}

// IsDataPointerInSlot reports whether [ptr, ptr+size) lies entirely
// inside caller's RAM slot (overflow-safe: ptr+size must not wrap), or —
// in ISRThread mode — inside the shared ISR stack window.
func (c *Checker) IsDataPointerInSlot(ptr, size uint32, caller task.ID, mode task.Mode) bool {
	t, err := c.tasks.Get(caller)
	if err != nil {
		return false
	}

	end := ptr + size
	if ptr >= t.RAMSlotStart && end >= ptr && end <= t.RAMSlotEnd {
		return true
	}
	if mode == task.ISRThread && end >= ptr && end <= c.isr.Top && c.isr.contains(ptr) {
		return true
	}
	return false
}

// IsDataPointerInTxtSlot reports whether [ptr, ptr+size) lies entirely
// inside caller's .text/.rodata slot.
func (c *Checker) IsDataPointerInTxtSlot(ptr, size uint32, caller task.ID) bool {
	t, err := c.tasks.Get(caller)
	if err != nil {
		return false
	}

	end := ptr + size
	return ptr >= t.TxtSlotStart && end >= ptr && end <= t.TxtSlotEnd
}

// IsDataPointerInAnySlot reports whether [ptr, ptr+size) lies in caller's
// RAM slot, its .text/.rodata slot, or (ISRThread mode) the shared ISR
// stack window — the umbrella check most syscall handlers actually call.
func (c *Checker) IsDataPointerInAnySlot(ptr, size uint32, caller task.ID, mode task.Mode) bool {
	if c.IsDataPointerInSlot(ptr, size, caller, mode) || c.IsDataPointerInTxtSlot(ptr, size, caller) {
		return true
	}
	if end := ptr + size; mode == task.ISRThread && end >= ptr && end <= c.isr.Top && c.isr.contains(ptr) {
		return true
	}
	return false
}

// IsDataPointerInDMAShm reports whether [ptr, ptr+size) lies entirely
// inside one of caller's DMA-SHM grants matching the requested access
// direction — the check the DMA arbiter runs before arming a transfer
// that reads from or writes to a cross-task shared buffer.
func (c *Checker) IsDataPointerInDMAShm(ptr, size uint32, access task.DMAAccess, caller task.ID) bool {
	t, err := c.tasks.Get(caller)
	if err != nil {
		return false
	}

	end := ptr + size
	for i := 0; i < t.NumDMAShms; i++ {
		g := t.DMAShms[i]
		if g.Access == access && ptr >= g.Base && end >= ptr && end <= g.Base+g.Size {
			return true
		}
	}
	return false
}
