// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package softirq implements the Softirq Thread (§4.6): the deferred
// execution context that drains two bounded ring-buffer queues — user
// ISR deliveries and syscalls — out of handler mode entirely, grounded
// on softirq.c's push_softirq/pop_softirq/task_softirq.
package softirq

import (
	"unsafe"

	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/task"
)

// QueueDepth bounds each ring buffer (softirq.c's MAX_QUEUE_SIZE,
// CONFIG_KERNEL_SOFTIRQ_QUEUE_DEPTH).
const QueueDepth = 16

type entryState int

const (
	sfqDone entryState = iota
	sfqWaiting
)

type entry struct {
	state   entryState
	caller  task.ID
	irqNum  int
	devSlot int
	handler uint32
	status  uint32
	data    uint32
	force   bool
}

// ring is a single-producer/single-consumer circular buffer, pushed from
// handler mode (without masking interrupts) and drained from the softirq task's
// own thread (softirq.c's softirqs_queue).
type ring struct {
	start, end int
	full       bool
	empty      bool
	buf        [QueueDepth]entry
}

func newRing() ring {
	return ring{empty: true}
}

// push mirrors push_softirq: rejects when full, or when the slot about
// to be written hasn't been drained yet (state != DONE).
func (r *ring) push(e entry) bool {
	if r.full {
		return false
	}
	if r.buf[r.end].state != sfqDone {
		return false
	}

	e.state = sfqWaiting
	r.buf[r.end] = e
	r.empty = false

	r.end = (r.end + 1) % QueueDepth
	if r.end == r.start {
		r.full = true
	}
	return true
}

// pop mirrors pop_softirq, returning the slot index so the caller can
// mark it DONE only after running it (task_softirq never re-enables
// interrupts between pop and the handler for the same reason the
// original disables them only around the pointer bookkeeping, not the
// handler body).
func (r *ring) pop() (int, bool) {
	if r.empty {
		return 0, false
	}

	r.full = false
	idx := r.start

	r.start = (r.start + 1) % QueueDepth
	if r.end == r.start {
		r.empty = true
	}
	return idx, true
}

// Dispatcher is the subset of kernel/syscall.Dispatcher the softirq
// thread calls into once it has popped a syscall entry off its queue.
type Dispatcher interface {
	Dispatch(caller task.ID, mode task.Mode) result.Code
}

// Scheduler is the subset of kernel/sched.Scheduler the softirq thread
// needs: requesting a reschedule (PendSV) after queueing or draining
// work, mirroring request_schedule()'s calls throughout softirq.c.
type Scheduler interface {
	RequestSchedule()
}

// Thread is the kernel-resident softirq state: its two ring buffers,
// the task table, and (once wired) the syscall dispatcher and
// scheduler it calls back into.
type Thread struct {
	tasks *task.Table
	log   *klog.Logger

	isrQueue     ring
	syscallQueue ring

	disp  Dispatcher
	sched Scheduler

	// isrStackTop/Size let the thread build the shared ISR-thread frame
	// (softirq.c zeros [STACK_TOP_ISR-STACK_SIZE_ISR, STACK_TOP_ISR) only
	// when the previous ISR belonged to a different task).
	isrStackTop, isrStackSize uint32
	previousISROwner          task.ID
}

// NewThread returns an empty softirq Thread bound to the task table.
func NewThread(tasks *task.Table, log *klog.Logger) *Thread {
	return &Thread{
		tasks: tasks, log: log,
		isrQueue: newRing(), syscallQueue: newRing(),
		previousISROwner: task.Unused,
	}
}

// SetDispatcher completes the softirq<->syscall wiring the constructor
// cannot establish, since the dispatcher itself is built after Thread.
func (t *Thread) SetDispatcher(d Dispatcher) { t.disp = d }

// SetScheduler wires the scheduler's RequestSchedule for PendSV-equivalent
// reschedule requests.
func (t *Thread) SetScheduler(s Scheduler) { t.sched = s }

// SetISRStack records the board's shared ISR stack window.
func (t *Thread) SetISRStack(top, size uint32) {
	t.isrStackTop, t.isrStackSize = top, size
}

// PushSyscall implements softirq_query(SFQ_SYSCALL, ...): queues a
// pending syscall for the given caller and marks the softirq task's own
// main thread runnable.
func (t *Thread) PushSyscall(caller task.ID) {
	if !t.syscallQueue.push(entry{caller: caller}) {
		panic("softirq: syscall queue full")
	}
	t.afterQuery()
}

// PushUserISR implements softirq_query(SFQ_USR_ISR, ...): queues a
// deferred user ISR delivery for caller, carrying the status/data words
// the posthook program (or DMA status read) produced. devSlot is the
// device bound to the firing IRQ (-1 for none, e.g. a DMA stream),
// recorded on the ISR execution context for the MPU manager's window
// lookup at the next switch (§4.1 step 3).
func (t *Thread) PushUserISR(caller task.ID, irqNum, devSlot int, handler uint32, status, data uint32, force bool) {
	e := entry{caller: caller, irqNum: irqNum, devSlot: devSlot, handler: handler, status: status, data: data, force: force}
	if !t.isrQueue.push(e) {
		panic("softirq: isr queue full")
	}
	t.afterQuery()
}

func (t *Thread) afterQuery() {
	softirq := t.tasks.MustGet(task.Softirq)
	softirq.Main.State = task.Runnable
	t.RequestSchedule()
}

// RequestSchedule forwards to the wired scheduler; a no-op before boot
// finishes wiring it.
func (t *Thread) RequestSchedule() {
	if t.sched != nil {
		t.sched.RequestSchedule()
	}
}

// Run is the softirq task's main loop body (task_softirq): drain the
// ISR queue first, then the syscall queue, and — if both end up empty —
// mark the softirq task IDLE and request a reschedule. The scheduler
// calls this exactly once per turn it elects the softirq task's main
// thread; unlike the original's infinite loop, control returns to the
// scheduler between turns rather than looping forever in one stack.
func (t *Thread) Run() {
	t.drainISRQueue()
	t.drainSyscallQueue()

	if t.isrQueue.empty && t.syscallQueue.empty {
		t.tasks.MustGet(task.Softirq).Main.State = task.Idle
		t.RequestSchedule()
	}
}

func (t *Thread) drainISRQueue() {
	for {
		idx, ok := t.isrQueue.pop()
		if !ok {
			return
		}
		e := t.isrQueue.buf[idx]
		if e.state != sfqWaiting {
			continue
		}

		caller, err := t.tasks.Get(e.caller)
		if err != nil {
			panic("softirq: isr entry for unknown task")
		}

		if caller.Main.State == task.Locked || caller.Main.State == task.SleepingDeep {
			// Postpone: re-push behind anything queued since, rather
			// than running it while the owner can't be scheduled.
			t.isrQueue.buf[idx].state = sfqDone
			if !t.isrQueue.push(e) {
				panic("softirq: isr re-push failed")
			}
			continue
		}

		t.runUserISR(caller, e)
		t.isrQueue.buf[idx].state = sfqDone
	}
}

func (t *Thread) drainSyscallQueue() {
	for {
		idx, ok := t.syscallQueue.pop()
		if !ok {
			return
		}
		e := t.syscallQueue.buf[idx]
		if e.state != sfqWaiting {
			continue
		}

		if t.disp != nil {
			res := t.disp.Dispatch(e.caller, task.MainThread)
			if caller, err := t.tasks.Get(e.caller); err == nil && !caller.BlockedRecv {
				task.WriteReturnValue(caller.Main.SP, uint32(res))
			}
		}

		t.syscallQueue.buf[idx].state = sfqDone
	}
}

// runUserISR mirrors softirq_handler_user_isr: builds the ISR-thread's
// initial frame over the shared ISR stack (zeroing it first only if the
// previous occupant was a different task), records the delivery payload
// on the task's ISR execution context, and promotes it to RUNNABLE.
func (t *Thread) runUserISR(caller *task.Task, e entry) {
	if caller.ID != t.previousISROwner {
		zeroISRStack(t.isrStackTop, t.isrStackSize)
		t.previousISROwner = caller.ID
	}

	sp := task.BuildISRFrame(t.isrStackTop, caller.ISREntry, e.handler, uint32(e.irqNum-16), e.status, e.data)

	caller.ISR.SP = sp
	caller.ISR.IRQNumber = e.irqNum
	caller.ISR.Status = e.status
	caller.ISR.Data = e.data
	caller.ISR.ForceMain = e.force
	caller.ISR.MappedDevice = e.devSlot

	caller.ISR.State = task.Runnable
}

func zeroISRStack(top, size uint32) {
	base := top - size
	for off := uint32(0); off < size; off += 4 {
		*(*uint32)(unsafe.Pointer(uintptr(base + off))) = 0
	}
}
