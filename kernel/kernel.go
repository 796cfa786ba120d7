// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kernel is the root of the executive: the single owning struct
// that every kernel subsystem hangs off of. No package below it keeps a
// package-level global — each takes the state it needs as a receiver or
// an explicit argument, the way the reference runtime's arm.CPU and
// internal/dma.Region avoid hidden globals by being values callers own.
package kernel

import (
	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/kernel/device"
	"github.com/ewok-project/ewok-kernel/kernel/dma"
	"github.com/ewok-project/ewok-kernel/kernel/irq"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/mpu"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/rng"
	"github.com/ewok-project/ewok-kernel/kernel/sanitize"
	"github.com/ewok-project/ewok-kernel/kernel/sched"
	"github.com/ewok-project/ewok-kernel/kernel/softirq"
	"github.com/ewok-project/ewok-kernel/kernel/syscall"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// Result is the uniform syscall return code (§6, §7): written into r0 of
// the caller's saved frame by the softirq thread once a syscall has run.
// It is a type alias over kernel/result.Code so that every leaf package
// (device, dma, syscall) can return the same four-value lattice without
// importing this root package.
type Result = result.Code

const (
	Done    = result.Done
	Invalid = result.Invalid
	Denied  = result.Denied
	Busy    = result.Busy
)

// Executive owns every piece of kernel state: the task table, the
// device/IRQ/GPIO registrar, the DMA arbiter, the MPU manager, the
// interrupt pipeline, the softirq queues and the scheduler. Boot wires
// one Executive to one platform.Driver; nothing else constructs these
// subsystems.
type Executive struct {
	Platform platform.Driver
	CPU      *arm.CPU
	Log      *klog.Logger

	Tasks     *task.Table
	Devices   *device.Registrar
	DMA       *dma.Arbiter
	MPU       *mpu.Manager
	Pipeline  *irq.Pipeline
	Softirq   *softirq.Thread
	Scheduler *sched.Scheduler
	RNG       *rng.Source
	Sanitize  *sanitize.Checker
}

// New assembles an Executive over a concrete platform driver and the
// board's static task layout. Tasks themselves are never created
// afterward (§3 lifecycle: "Tasks are created once at boot... never
// destroyed"). policy selects the §4.8 step-6 election rule among
// runnable main threads.
func New(p platform.Driver, cpu *arm.CPU, log *klog.Logger, layout []task.BootEntry, socMap []device.SocMapEntry, mpuLayout mpu.Layout, policy task.SchedPolicy) *Executive {
	tasks := task.NewTable(layout)
	devices := device.NewRegistrar(p, tasks, log)
	devices.SetSocMap(socMap)
	dmaArbiter := dma.NewArbiter(p, tasks, log)
	mpuMgr := mpu.NewManager(p, mpuLayout, log)
	pipeline := irq.NewPipeline(p, tasks, devices, log)
	soft := softirq.NewThread(tasks, log)
	randSrc := rng.NewSource(p, log)

	san := sanitize.New(tasks, sanitize.ISRStackWindow{Top: mpuLayout.ISRStackTop, Size: mpuLayout.ISRStackSize})
	dmaArbiter.BindChecker(san)

	scheduler := sched.NewScheduler(tasks, devices, soft, mpuMgr, p, randSrc, policy, log)

	disp := syscall.NewDispatcher(tasks, devices, dmaArbiter, p, randSrc, san, log)
	disp.SetScheduler(scheduler)
	soft.SetDispatcher(disp)
	soft.SetScheduler(scheduler)
	soft.SetISRStack(mpuLayout.ISRStackTop, mpuLayout.ISRStackSize)

	pipeline.SetSoftirq(soft)
	pipeline.SetDMA(dmaArbiter)
	pipeline.SetScheduler(scheduler)

	return &Executive{
		Platform:  p,
		CPU:       cpu,
		Log:       log,
		Tasks:     tasks,
		Devices:   devices,
		DMA:       dmaArbiter,
		MPU:       mpuMgr,
		Pipeline:  pipeline,
		Softirq:   soft,
		Scheduler: scheduler,
		RNG:       randSrc,
		Sanitize:  san,
	}
}

// Boot programs the fixed MPU regions, installs the exception dispatcher
// and performs the scheduler's one-way hand-off into the first elected
// task. It never returns.
func (e *Executive) Boot() {
	e.MPU.InitFixedRegions()
	arm.ExceptionHandler(e.Pipeline.Dispatch)

	e.Log.Info("boot: %d tasks loaded", e.Tasks.Count())

	e.Scheduler.HandOff(e.CPU)
}
