// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package irq implements the two-level Interrupt Pipeline (§4.5): the
// handler-mode dispatch every exception enters through, and the deferral
// into the softirq thread for everything that is not a kernel-owned
// inline handler. It is wired as the single override of arm's exception
// dispatcher (arm.ExceptionHandler), mirroring isr.c's postpone_isr and
// exti-handler.c's multiplexed EXTI demux.
package irq

import (
	"fmt"

	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/internal/reg"
	"github.com/ewok-project/ewok-kernel/kernel/device"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// Softirq is the subset of kernel/softirq.Thread the pipeline pushes
// deferred work into; kept as an interface here so this package does not
// import softirq (softirq imports irq's sibling packages, not the other
// way around, but this also keeps the two testable in isolation).
type Softirq interface {
	PushUserISR(caller task.ID, irq, devSlot int, handler uint32, status, data uint32, force bool)
	PushSyscall(caller task.ID)
	RequestSchedule()
}

// DMAStatus is the subset of kernel/dma.Arbiter the pipeline needs to
// acknowledge a DMA-completion IRQ before deferring it (isr.c: "Timer and
// DMA are managed by the kernel"). Lookups run by absolute IRQ number
// rather than by (caller, id): a DMA completion fires in handler mode
// before any task context is established for it.
type DMAStatus interface {
	LookupIRQ(irqNum int) (owner task.ID, id int, ok bool)
	StatusRaw(ctrl, stream int) platform.DMAStatus
	CleanIntRaw(ctrl, stream int)
	StreamOf(id int) (ctrl, stream int)
}

// Pipeline is the handler-mode entry point every exception dispatches
// through (§4.5).
type Pipeline struct {
	p       platform.Driver
	tasks   *task.Table
	devices *device.Registrar
	log     *klog.Logger

	soft  Softirq
	dma   DMAStatus
	sched CurrentTask

	extiIRQs map[int]bool
}

// CurrentTask is the subset of kernel/sched.Scheduler the fault handler
// and the SysTick/PendSV vectors need: which task/mode is running, and
// the two tick-driven entry points into the election routine (§4.8).
type CurrentTask interface {
	Current() (task.ID, task.Mode)
	OnSysTick()
	OnPendSV()
}

// NewPipeline returns a Pipeline bound to the platform, task table and
// device registrar. SetSoftirq/SetDMA must be called once those
// subsystems exist (kernel.New wires all three before Boot).
func NewPipeline(p platform.Driver, tasks *task.Table, devices *device.Registrar, log *klog.Logger) *Pipeline {
	return &Pipeline{p: p, tasks: tasks, devices: devices, log: log}
}

// SetSoftirq completes the wiring the constructor cannot: the softirq
// thread and the pipeline each need to call into the other.
func (pl *Pipeline) SetSoftirq(s Softirq) { pl.soft = s }

// SetDMA wires the DMA status/clean-int lookup used for DMA-IRQ
// acknowledgement ahead of deferral.
func (pl *Pipeline) SetDMA(d DMAStatus) { pl.dma = d }

// SetScheduler wires the current-task lookup the fault handler needs.
func (pl *Pipeline) SetScheduler(s CurrentTask) { pl.sched = s }

// RegisterEXTIVector marks an absolute exception number as one of the
// SoC's multiplexed EXTI vectors (EXTI9_5/EXTI15_10), so Dispatch knows
// to bit-scan pending lines instead of looking up a single IRQ cell.
func (pl *Pipeline) RegisterEXTIVector(irq int) {
	if pl.extiIRQs == nil {
		pl.extiIRQs = make(map[int]bool)
	}
	pl.extiIRQs[irq] = true
}

// Dispatch is installed via arm.ExceptionHandler and runs in handler
// mode for every exception number (§4.5 step 1). Core faults are routed
// to Fault; SVCall is handled by the softirq syscall path via the
// dispatcher already pushed from user mode (§4.7); every other vector is
// either a kernel-owned inline handler or deferred through postponeISR.
func (pl *Pipeline) Dispatch(number int) {
	switch number {
	case arm.HardFault, arm.MemManage, arm.BusFault, arm.UsageFault:
		pl.Fault(number)
		return
	case arm.SysTick:
		if pl.sched != nil {
			pl.sched.OnSysTick()
		}
		return
	case arm.SVCall:
		pl.dispatchSVC()
		return
	case arm.PendSV:
		if pl.sched != nil {
			pl.sched.OnPendSV()
		}
		return
	}

	if pl.extiIRQs[number] {
		pl.dispatchEXTI(number)
		return
	}

	pl.postponeISR(number)
}

// dispatchSVC mirrors isr.c's svc_handler: SVC 0 is the only vector user
// code ever traps into deliberately, always from the calling task's own
// main thread (§4.7 — syscalls are a main-thread-only ABI), so the
// current task is queued into the softirq syscall queue rather than run
// inline here; Dispatch itself never touches task memory.
func (pl *Pipeline) dispatchSVC() {
	if pl.sched == nil || pl.soft == nil {
		return
	}
	id, _ := pl.sched.Current()
	pl.soft.PushSyscall(id)
	pl.soft.RequestSchedule()
}

// postponeISR mirrors isr.c's postpone_isr: a kernel-owned cell runs
// inline and returns without touching the scheduler; a user-owned cell
// is acknowledged (DMA status+clean, or the device's posthook program),
// its NVIC pending bit is cleared, and the event is deferred into the
// softirq thread's ISR queue. An IRQ number with no registered cell at
// all is an invariant breach (default_handlers.c's Default_SubHandler
// panics on exactly this), not a recoverable condition.
func (pl *Pipeline) postponeISR(irqNum int) {
	cell, ok := pl.devices.LookupIRQ(irqNum)
	if !ok {
		panic(fmt.Sprintf("irq: unhandled IRQ number %d", irqNum))
	}

	if cell.Kind == device.HandlerKernel {
		if cell.Kernel != nil {
			cell.Kernel()
		}
		return
	}

	var status, data uint32

	if owner, id, ok := pl.lookupDMA(irqNum); pl.dma != nil && ok {
		ctrl, stream := pl.dma.StreamOf(id)
		status = encodeDMAStatus(pl.dma.StatusRaw(ctrl, stream))
		pl.dma.CleanIntRaw(ctrl, stream)
		_ = owner
	} else {
		res := pl.runPosthook(cell)
		status, data = res.Status, res.Data
	}

	pl.p.NVICClearPending(irqNum - nvicOffset)

	pl.soft.PushUserISR(cell.Task, irqNum, cell.DevSlot, cell.Handler, status, data, cell.Force)
}

// mmio adapts a platform.Driver to device.MMIO for posthook execution;
// the registrar validated every offset against the device's declared
// size at registration time (device.ValidateOffsets), so Exec here only
// ever touches memory already proven to lie inside that window.
type mmio struct {
	base uint32
}

func (m mmio) Read(offset uint32) uint32 { return reg.Read(m.base + offset) }
func (m mmio) Write(offset, value, mask uint32) {
	v := reg.Read(m.base+offset)&^mask | value&mask
	reg.Write(m.base+offset, v)
}

func (pl *Pipeline) lookupDMA(irqNum int) (owner task.ID, id int, ok bool) {
	if pl.dma == nil {
		return task.Unused, -1, false
	}
	return pl.dma.LookupIRQ(irqNum)
}

func (pl *Pipeline) runPosthook(cell *device.IRQCell) device.Result {
	dev := pl.devices.Device(cell.DevSlot)
	if dev == nil {
		return device.Result{}
	}
	return device.Exec(&cell.Program, mmio{base: dev.Address})
}

func encodeDMAStatus(st platform.DMAStatus) uint32 {
	var s uint32
	if st.Complete {
		s |= 1 << 0
	}
	if st.HalfComplete {
		s |= 1 << 1
	}
	if st.TransferErr {
		s |= 1 << 2
	}
	if st.FIFOErr {
		s |= 1 << 3
	}
	if st.DirectModeErr {
		s |= 1 << 4
	}
	return s
}

// dispatchEXTI mirrors exti-handler.c's exti_handler: bit-scan the
// multiplexed vector's pending lines, and for each set line resolve the
// owning GPIO/device via the registrar's EXTI table (§9 Open Question
// 3 — no transient IRQ cell is synthesized; the pipeline asks the
// registrar directly).
func (pl *Pipeline) dispatchEXTI(irqNum int) {
	pending := pl.p.EXTIGetPendingLines(irqNum)

	for pin := 0; pin < 16; pin++ {
		if pending&(1<<uint(pin)) == 0 {
			continue
		}

		pl.p.EXTIClearPending(pin)

		owner, devSlot, callback, locked, ok := pl.devices.EXTIOwner(pin)
		if !ok {
			pl.log.Error("irq: no owner registered for EXTI line %d", pin)
			continue
		}

		pl.soft.PushUserISR(owner, irqNum, devSlot, callback, uint32(pin), 0, false)

		if locked {
			pl.p.EXTIDisable(pin)
		}
	}

	pl.p.NVICClearPending(irqNum - nvicOffset)
}

const nvicOffset = 16

// Fault implements the core fault handlers (§4.5 step 4, mpu-handler.c's
// MemManage_Handler): dump the fault registers, move the current task's
// active mode to FAULT so the scheduler never elects it again, and
// request a reschedule — unless the faulting frame belongs to the kernel
// itself, which is unrecoverable.
func (pl *Pipeline) Fault(number int) {
	info := arm.ReadFaultInfo(0)
	pl.log.Crit("fault: vector=%s %s", arm.VectorName(number), info.String())

	if pl.sched == nil {
		panic("irq: fault before scheduler is wired, halting")
	}

	id, mode := pl.sched.Current()
	t, err := pl.tasks.Get(id)
	if err != nil || t.Type == task.TypeKernel {
		panic("irq: fault in kernel context, halting")
	}

	t.Context(mode).State = task.Fault

	pl.soft.RequestSchedule()
}
