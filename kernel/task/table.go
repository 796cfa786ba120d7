// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

import "fmt"

// Table is the static task set, indexed by ID. It is populated once from
// the board's compile-time layout and never resized afterward (§3).
type Table struct {
	tasks [maxID]Task
}

// NewTable builds the task table from a board's static boot layout,
// constructing each task's main-thread initial stack frame so the
// scheduler's very first election (§4.8) has somewhere to hand off to.
func NewTable(layout []BootEntry) *Table {
	t := &Table{}

	for _, e := range layout {
		if e.ID == Unused || e.ID >= maxID {
			continue
		}

		tt := &t.tasks[e.ID]
		*tt = Task{
			ID:           e.ID,
			Name:         e.Name,
			Type:         TypeUser,
			Slot:         e.Slot,
			NumSlots:     e.NumSlots,
			RAMSlotStart: e.RAMStart,
			RAMSlotEnd:   e.RAMEnd,
			TxtSlotStart: e.TxtStart,
			TxtSlotEnd:   e.TxtEnd,
			EntryPoint:   e.EntryPoint,
			ISREntry:     e.ISREntry,
			Priority:     e.Priority,
			StackSize:    e.StackSize,
			Domain:       e.Domain,
			Permissions:  e.Permissions,
			ForcedBy:     Unused,
		}
		for i := range tt.DevIDs {
			tt.DevIDs[i] = -1
		}
		for i := range tt.DMAIDs {
			tt.DMAIDs[i] = -1
		}

		tt.Main.MappedDevice = -1
		tt.ISR.MappedDevice = -1
		tt.Main.State = Runnable
		tt.ISR.State = Empty

		stackTop := e.RAMEnd
		tt.Main.SP = BuildInitialFrame(stackTop, e.EntryPoint, uint32(e.ID))
		if e.ISREntry != 0 {
			tt.ISR.SP = BuildInitialFrame(stackTop, e.ISREntry, uint32(e.ID))
		}
	}

	t.tasks[Kernel] = Task{ID: Kernel, Name: "KERNEL", Type: TypeKernel, ForcedBy: Unused}
	t.tasks[Kernel].Main.MappedDevice = -1
	t.tasks[Kernel].ISR.MappedDevice = -1

	t.tasks[Softirq] = Task{ID: Softirq, Name: "SOFTIRQ", Type: TypeKernel, ForcedBy: Unused}
	t.tasks[Softirq].Main.MappedDevice = -1
	t.tasks[Softirq].ISR.MappedDevice = -1
	t.tasks[Softirq].Main.State = Runnable

	return t
}

// Count returns the number of non-kernel task slots the table was built
// with occupied entries for.
func (t *Table) Count() int {
	n := 0
	for i := App1; i <= App7; i++ {
		if t.tasks[i].Name != "" {
			n++
		}
	}
	return n
}

// Get returns the task control block for id. Callers never mutate the
// returned pointer's ID/Name/slot geometry — only the mutable scheduling
// fields.
func (t *Table) Get(id ID) (*Task, error) {
	if id == Unused || id >= maxID {
		return nil, fmt.Errorf("task: invalid id %d", id)
	}
	return &t.tasks[id], nil
}

// MustGet panics on an invalid id; used only where the caller already
// knows id came from a validated source (e.g. iterating the table itself).
func (t *Table) MustGet(id ID) *Task {
	tt, err := t.Get(id)
	if err != nil {
		panic(err)
	}
	return tt
}

// Each calls fn for every occupied task slot (App1..App7, Softirq,
// Kernel), in ID order, stopping early if fn returns false.
func (t *Table) Each(fn func(*Task) bool) {
	for i := App1; i < maxID; i++ {
		tt := &t.tasks[i]
		if tt.Name == "" {
			continue
		}
		if !fn(tt) {
			return
		}
	}
}

// FindByName returns the id of the task registered under name, used by
// INIT_GETTASKID, or Unused if no task carries that name.
func (t *Table) FindByName(name string) ID {
	var found ID = Unused
	t.Each(func(tt *Task) bool {
		if tt.Name == name {
			found = tt.ID
			return false
		}
		return true
	})
	return found
}

// Find returns the task owning the RAM address addr, or nil if no task's
// slot range contains it. No kernel package calls it; the EXTI dispatcher
// resolves a line's owner through device.Registrar.EXTIOwner.
func (t *Table) Find(addr uint32) *Task {
	var found *Task
	t.Each(func(tt *Task) bool {
		if addr >= tt.RAMSlotStart && addr < tt.RAMSlotEnd {
			found = tt
			return false
		}
		return true
	})
	return found
}
