// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sched implements the Scheduler (§4.8): task election, the MPU
// reprogramming call-through on every switch, and sleep-deadline
// bookkeeping driven by the systick handler. It is the sole writer of MPU
// and NVIC-PendSV-equivalent state (§5: "MPU registers: owned exclusively
// by the scheduler"), grounded on sched.c's sched_task_elect and
// sched_switch_mpu.
package sched

import (
	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/kernel/device"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/mpu"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// SchedPeriod bounds how many systick periods pass between two
// policy-driven elections (sched.c's CONFIG_SCHED_PERIOD); a PendSV
// request always elects immediately regardless of this counter.
const SchedPeriod = 10

// Softirq is the subset of kernel/softirq.Thread the scheduler calls
// directly when it elects the softirq task: unlike a user task, softirq
// has no real execution context to switch PSP into, so running it is a
// synchronous Go call substituting for the original's "own while(1) body"
// (softirq.go's doc comment).
type Softirq interface {
	Run()
}

// Entropy is the subset of kernel/rng.Source the RAND policy needs.
type Entropy interface {
	Word() uint32
}

// Scheduler owns election, sleep bookkeeping and the MPU call-through. It
// is wired with a *arm.CPU only once HandOff is called (the first
// transfer out of boot code), since nothing earlier in the boot sequence
// runs in a task's own thread context.
type Scheduler struct {
	tasks   *task.Table
	devices *device.Registrar
	soft    Softirq
	mpu     *mpu.Manager
	p       platform.Driver
	rng     Entropy
	policy  task.SchedPolicy
	log     *klog.Logger

	cpu *arm.CPU

	current     task.ID
	currentMode task.Mode

	lastUserTask task.ID
	periodCount  uint32
}

// NewScheduler returns a Scheduler bound to every subsystem its election
// and MPU call-through need. policy selects §4.8 step 6's tie-break rule
// among RAND/RR/MLQ_RR.
func NewScheduler(tasks *task.Table, devices *device.Registrar, soft Softirq, mpuMgr *mpu.Manager, p platform.Driver, rng Entropy, policy task.SchedPolicy, log *klog.Logger) *Scheduler {
	return &Scheduler{
		tasks: tasks, devices: devices, soft: soft, mpu: mpuMgr, p: p, rng: rng, policy: policy, log: log,
		current: task.Kernel, currentMode: task.MainThread, lastUserTask: task.App1,
	}
}

// Current returns the task and mode the scheduler last elected, the
// implementation of kernel/irq.CurrentTask (mpu-handler.c's
// sched_get_current()).
func (s *Scheduler) Current() (task.ID, task.Mode) {
	return s.current, s.currentMode
}

// RequestSchedule asks for an election at the next opportunity. This
// core's platform.Driver exposes no "set PendSV pending" primitive, so —
// unlike the original's request_schedule(), which defers to the next
// PendSV exception — this runs the election synchronously; nothing else
// executes on this single core between the request and the point where
// the original's PendSV would have fired, so the observable order is the
// same (§5: single-threaded cooperative at kernel level).
func (s *Scheduler) RequestSchedule() {
	s.reschedule()
}

// HandOff performs the one-way transfer out of boot code into the first
// elected task (sched_init's tail asm): elect, program the MPU, and
// branch. It never returns.
func (s *Scheduler) HandOff(cpu *arm.CPU) {
	s.cpu = cpu

	id, mode := s.elect()
	s.current, s.currentMode = id, mode

	t := s.tasks.MustGet(id)
	s.switchMPU(t, mode)

	cpu.SetControl(arm.ControlUnprivilegedPSP)
	cpu.FullBarrier()

	cpu.BootDispatch(t.Context(mode).SP, t.EntryPoint)
}

// OnSysTick is the systick exception's scheduling half (Sched_Systick_
// Handler): wake any sleeper whose deadline has elapsed, and — every
// SchedPeriod ticks — elect, unless the running task is mid-ISR (an ISR
// thread finishes via its own SVC, never via a forced election).
func (s *Scheduler) OnSysTick() {
	s.p.DWTGetCycles64() // keeps the DWT wrap count current between GETTICK reads
	s.wakeDueSleepers()

	s.periodCount++
	if s.periodCount < SchedPeriod {
		return
	}
	s.periodCount = 0

	if s.isrRunning() {
		return
	}
	s.reschedule()
}

// OnPendSV is the PendSV exception's scheduling half (Sched_PendSV_
// Handler): always elects, the same ISR-running guard applied.
func (s *Scheduler) OnPendSV() {
	s.periodCount = 0

	if s.isrRunning() {
		return
	}
	s.reschedule()
}

func (s *Scheduler) isrRunning() bool {
	t, err := s.tasks.Get(s.current)
	return err == nil && s.currentMode == task.ISRThread && t.ISR.State == task.Runnable
}

// reschedule saves the outgoing context's live PSP, elects, reprograms
// the MPU and loads the new PSP — the work common to OnSysTick,
// OnPendSV and RequestSchedule.
func (s *Scheduler) reschedule() {
	if s.cpu == nil {
		return
	}

	if out, err := s.tasks.Get(s.current); err == nil {
		out.Context(s.currentMode).SP = s.cpu.PSP()
	}

	id, mode := s.elect()
	s.current, s.currentMode = id, mode

	t := s.tasks.MustGet(id)
	s.switchMPU(t, mode)
	s.cpu.FullBarrier()
	s.cpu.SetPSP(t.Context(mode).SP)
}

// wakeDueSleepers implements the sleep-expiry half of §4.8's last
// paragraph: every systick, any task whose SleepUntil deadline has
// elapsed transitions back to RUNNABLE regardless of SLEEPING vs
// SLEEPING_DEEP (both only ever woken early by, respectively, an
// ISR/IPC or nothing at all — the early-wake path lives in
// wakeInterruptible, called directly from the IPC/ISR delivery sites).
func (s *Scheduler) wakeDueSleepers() {
	ticks := s.p.SysTickGetTicks()

	s.tasks.Each(func(t *task.Task) bool {
		t.WakeIfDue(ticks)
		return true
	})
}

// elect runs §4.8's election order, synchronously draining the softirq
// thread in place whenever it is the elected task (see the Softirq
// interface doc) until a real user or kernel task is elected.
func (s *Scheduler) elect() (task.ID, task.Mode) {
	for {
		id, mode := s.electOnce()
		if id == task.Softirq {
			s.soft.Run()
			continue
		}
		return id, mode
	}
}

func (s *Scheduler) electOnce() (task.ID, task.Mode) {
	// 1. Any ISR-thread runnable preempts everything (§4.8 step 1).
	if id, ok := s.findISRRunnable(); ok {
		return id, task.ISRThread
	}

	// 2. Critical-section holders (§4.8 step 2).
	if id, ok := s.findLocked(); ok {
		return id, task.MainThread
	}

	// 3. Finished ISRs rejoin their main thread (§4.8 step 3); this may
	// itself elect a FORCE_MAINTHREAD promotion.
	if id, ok := s.reapFinishedISRs(); ok {
		return id, task.MainThread
	}

	// 4. Softirq, if it has work queued.
	softirq := s.tasks.MustGet(task.Softirq)
	if softirq.Main.State == task.Runnable {
		return task.Softirq, task.MainThread
	}

	// 5. Sync-IPC-forced tasks (§4.8 step 5).
	if id, ok := s.findForced(); ok {
		return id, task.MainThread
	}

	// 6. Configured policy over runnable main threads.
	if id, ok := s.electByPolicy(); ok {
		return id, task.MainThread
	}

	// 7. Idle.
	return task.Kernel, task.MainThread
}

func (s *Scheduler) findISRRunnable() (task.ID, bool) {
	var found task.ID
	ok := false
	s.tasks.Each(func(t *task.Task) bool {
		if t.ISR.State == task.Runnable {
			found, ok = t.ID, true
			return false
		}
		return true
	})
	return found, ok
}

func (s *Scheduler) findLocked() (task.ID, bool) {
	var found task.ID
	ok := false
	s.tasks.Each(func(t *task.Task) bool {
		if t.Main.State == task.Locked {
			found, ok = t.ID, true
			return false
		}
		return true
	})
	return found, ok
}

// reapFinishedISRs mirrors sched_task_elect's ISR_DONE sweep: every task
// whose ISR thread just finished goes back to IDLE/MAINTHREAD mode, and
// either promotes a FORCE_MAINTHREAD main thread to the elected task
// (returning immediately, as the original's goto end does) or otherwise
// wakes/promotes its main thread and continues the sweep.
func (s *Scheduler) reapFinishedISRs() (task.ID, bool) {
	var forced task.ID
	haveForced := false

	s.tasks.Each(func(t *task.Task) bool {
		if t.ISR.State != task.ISRDone {
			return true
		}

		t.ISR.State = task.Idle
		t.ISR.SP = 0
		t.ISR.MappedDevice = -1
		t.ISR.IRQNumber = 0

		if t.Main.State == task.Forced && !haveForced {
			t.Main.State = task.Runnable
			forced, haveForced = t.ID, true
			return true
		}

		if t.SleepUntil != 0 && (t.Main.State == task.Sleeping || t.Main.State == task.SleepingDeep) {
			if s.p.SysTickGetTicks() >= t.SleepUntil {
				t.Main.State = task.Runnable
			} else if t.Main.State == task.Sleeping {
				// interruptible sleep: a finishing ISR for this very
				// task counts as the event that cancels it early.
				t.Main.State = task.Runnable
			}
		} else if t.Main.State == task.Idle {
			t.Main.State = task.Runnable
		}

		return true
	})

	if haveForced {
		return forced, true
	}
	return task.Unused, false
}

func (s *Scheduler) findForced() (task.ID, bool) {
	var found task.ID
	ok := false
	s.tasks.Each(func(t *task.Task) bool {
		if t.Main.State == task.Forced {
			t.Main.State = task.Runnable
			found, ok = t.ID, true
			return false
		}
		return true
	})
	return found, ok
}

func (s *Scheduler) electByPolicy() (task.ID, bool) {
	switch s.policy {
	case task.PolicyRand:
		return s.electRand()
	case task.PolicyMLQRR:
		return s.electMLQRR()
	default:
		return s.electRR()
	}
}

func (s *Scheduler) runnableMainThreads() []task.ID {
	var ids []task.ID
	s.tasks.Each(func(t *task.Task) bool {
		if t.Type == task.TypeUser && t.Main.State == task.Runnable {
			ids = append(ids, t.ID)
		}
		return true
	})
	return ids
}

// electRand mirrors CONFIG_SCHED_RAND: up to 32 TRNG-driven probes among
// [APP1, APPMAX].
func (s *Scheduler) electRand() (task.ID, bool) {
	ids := s.runnableMainThreads()
	if len(ids) == 0 {
		return task.Unused, false
	}
	if s.rng == nil {
		return ids[0], true
	}
	for i := 0; i < 32; i++ {
		w := s.rng.Word()
		id := task.App1 + task.ID(w%uint32(task.Softirq-task.App1))
		if t, err := s.tasks.Get(id); err == nil && t.Main.State == task.Runnable {
			return id, true
		}
	}
	return ids[0], true
}

// electRR mirrors CONFIG_SCHED_RR: round-robin from lastUserTask+1.
func (s *Scheduler) electRR() (task.ID, bool) {
	id := s.lastUserTask
	for i := task.App1; i <= task.App7; i++ {
		if id < task.App7 {
			id++
		} else {
			id = task.App1
		}
		if t, err := s.tasks.Get(id); err == nil && t.Name != "" && t.Main.State == task.Runnable {
			s.lastUserTask = id
			return id, true
		}
	}
	return task.Unused, false
}

// electMLQRR mirrors CONFIG_SCHED_MLQ_RR: highest numeric priority class
// among runnable main threads, round-robin within that class.
func (s *Scheduler) electMLQRR() (task.ID, bool) {
	var top task.Priority
	found := false
	s.tasks.Each(func(t *task.Task) bool {
		if t.Type == task.TypeUser && t.Main.State == task.Runnable && (!found || t.Priority > top) {
			top = t.Priority
			found = true
		}
		return true
	})
	if !found {
		return task.Unused, false
	}

	id := s.lastUserTask
	for i := task.App1; i <= task.App7; i++ {
		if id < task.App7 {
			id++
		} else {
			id = task.App1
		}
		if t, err := s.tasks.Get(id); err == nil && t.Priority == top && t.Main.State == task.Runnable {
			s.lastUserTask = id
			return id, true
		}
	}
	return task.Unused, false
}

// switchMPU is the Manager call-through for the elected (task, mode) pair
// (§4.1 steps 2/3, sched_switch_mpu).
func (s *Scheduler) switchMPU(t *task.Task, mode task.Mode) {
	if t.Type != task.TypeUser {
		return
	}

	if mode == task.ISRThread {
		var dw *mpu.DeviceWindow
		if dev := s.devices.Device(t.ISR.MappedDevice); dev != nil {
			dw = &mpu.DeviceWindow{Base: dev.Address, Size: uint64(dev.Size), ReadOnly: dev.ReadOnly}
		}
		s.mpu.SwitchISRThread(t.Slot, t.NumSlots, dw)
		return
	}

	windows := s.devices.MappedDeviceWindows(t)
	mw := make([]mpu.DeviceWindow, len(windows))
	for i, w := range windows {
		mw[i] = mpu.DeviceWindow{Base: w.Base, Size: uint64(w.Size), ReadOnly: w.ReadOnly}
	}
	s.mpu.SwitchMainThread(t.Slot, t.NumSlots, mw)
}

// WakeInterruptible cancels an interruptible SLEEP early: called by the
// IPC/ISR delivery sites (kernel/syscall, kernel/softirq) the moment an
// event targets a sleeping task, mirroring sleep_try_waking_up's use from
// outside the systick path.
func (s *Scheduler) WakeInterruptible(id task.ID) {
	t, err := s.tasks.Get(id)
	if err != nil {
		return
	}
	t.WakeInterruptible()
}
