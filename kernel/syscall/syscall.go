// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package syscall implements Syscall Dispatch (§4.7): the softirq
// thread's only caller, decoding a popped SYSCALL entry's saved register
// frame into one of the nine syscall families (or LOG, which is accepted
// and answered DONE without further effect) and running it under the
// caller's identity, grounded on syscalls.h's e_syscall_type/e_init_type/
// e_ipc_type/e_cfg_type/e_tick_type/e_lock_type taxonomy and on
// syscalls-yield.c / syscalls-cfg-dev.c for exact per-family semantics.
//
// ABI: r0 carries the syscall family (e_syscall_type); where the original
// kernel passes a pointer to an in-caller-memory argument array and lets
// handlers write results back into that same array, this port uses the
// three remaining frame registers r1-r3 as direct scalar arguments, and —
// for the handful of calls that must return more than a result code
// (GETTICK, GET_RANDOM, INIT_GETTASKID) — a caller-supplied output
// pointer in one of those registers (r1 for GET_RANDOM, r2 for GETTICK,
// r3 for INIT_GETTASKID), validated the same way any
// other user pointer is (§4.7 "every syscall that accepts a user pointer
// validates it"). This is recorded as an open design simplification in
// DESIGN.md.
package syscall

import (
	"unsafe"

	"github.com/ewok-project/ewok-kernel/kernel/device"
	"github.com/ewok-project/ewok-kernel/kernel/dma"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/sanitize"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// Family is the top-level syscall vector (e_syscall_type).
type Family uint32

const (
	SysYield Family = iota
	SysInit
	SysIPC
	SysCfg
	SysGettick
	SysReset
	SysSleep
	SysLock
	SysGetRandom
	SysLog
)

// Init subtypes (e_init_type).
const (
	InitDevaccess uint32 = iota
	InitDMA
	InitDMAShm
	InitGetTaskID
	InitDone
)

// IPC subtypes (e_ipc_type).
const (
	IPCRecvSync uint32 = iota
	IPCSendSync
	IPCRecvAsync
	IPCSendAsync
)

// Cfg subtypes (e_cfg_type).
const (
	CfgGPIOSet uint32 = iota
	CfgGPIOGet
	CfgGPIOUnlockEXTI
	CfgDMAReconf
	CfgDMAReload
	CfgDMADisable
	CfgDevMap
	CfgDevUnmap
	CfgDevRelease
)

// Tick precisions (e_tick_type).
const (
	PrecMilli uint32 = iota
	PrecMicro
	PrecCycle
)

// Lock subtypes (e_lock_type).
const (
	LockEnter uint32 = iota
	LockExit
)

// Scheduler is the subset of kernel/sched.Scheduler the dispatcher calls:
// RequestSchedule after a state-changing syscall (CFG_DEV_MAP/UNMAP,
// YIELD, LOCK, SLEEP all request a reschedule in the original), and
// WakeInterruptible to cancel a peer's interruptible sleep the moment an
// IPC or ISR targets it.
type Scheduler interface {
	RequestSchedule()
	WakeInterruptible(id task.ID)
}

// Entropy is the subset of kernel/rng.Source GET_RANDOM draws from.
type Entropy interface {
	Word() uint32
}

// Dispatcher runs one syscall to completion under the caller's identity,
// called exactly once per popped softirq SYSCALL entry.
type Dispatcher struct {
	tasks   *task.Table
	devices *device.Registrar
	dmaArb  *dma.Arbiter
	p       platform.Driver
	rng     Entropy
	san     *sanitize.Checker
	sched   Scheduler
	log     *klog.Logger
}

// NewDispatcher returns a Dispatcher wired to every subsystem a syscall
// family may touch.
func NewDispatcher(tasks *task.Table, devices *device.Registrar, dmaArb *dma.Arbiter, p platform.Driver, rng Entropy, san *sanitize.Checker, log *klog.Logger) *Dispatcher {
	return &Dispatcher{tasks: tasks, devices: devices, dmaArb: dmaArb, p: p, rng: rng, san: san, log: log}
}

// SetScheduler completes the dispatcher<->scheduler wiring (the
// scheduler itself is constructed after the dispatcher, see kernel.go).
func (d *Dispatcher) SetScheduler(s Scheduler) { d.sched = s }

// Dispatch decodes and runs the syscall request waiting in caller's
// saved frame (softirq_handler_syscall's switch on args[0]), returning
// the uniform result code to write back into r0 — unless the syscall
// blocked the caller (IPC_RECV_SYNC with nothing pending), in which case
// the caller remains parked and no return value is written until its
// eventual unblocking writes one directly.
func (d *Dispatcher) Dispatch(caller task.ID, mode task.Mode) result.Code {
	t, err := d.tasks.Get(caller)
	if err != nil {
		return result.Invalid
	}

	sp := t.Context(mode).SP
	r0, r1, r2, r3 := task.ReadSyscallArgs(sp)

	switch Family(r0) {
	case SysYield:
		return d.sysYield(t, mode)
	case SysReset:
		d.p.SystemReset()
		return result.Done
	case SysSleep:
		return d.sysSleep(t, mode, r1, r2)
	case SysLock:
		return d.sysLock(t, mode, r1)
	case SysInit:
		return d.sysInit(t, mode, r1, r2, r3)
	case SysIPC:
		return d.sysIPC(t, mode, r1, r2, r3)
	case SysCfg:
		return d.sysCfg(t, mode, r1, r2, r3)
	case SysGettick:
		return d.sysGettick(t, mode, r1, r2)
	case SysGetRandom:
		return d.sysGetRandom(t, mode, r1, r2)
	case SysLog:
		return result.Done
	default:
		return result.Invalid
	}
}

// sysYield implements YIELD (syscalls-yield.c's sys_yield): denied from
// ISR-thread mode, otherwise IDLE + reschedule.
func (d *Dispatcher) sysYield(t *task.Task, mode task.Mode) result.Code {
	if mode == task.ISRThread {
		return result.Denied
	}
	t.Context(mode).State = task.Idle
	d.requestSchedule()
	return result.Done
}

// sysSleep implements SLEEP(ms, mode): r1 = duration in milliseconds, r2
// = 0 for interruptible SLEEPING, nonzero for SLEEPING_DEEP.
func (d *Dispatcher) sysSleep(t *task.Task, mode task.Mode, ms, deep uint32) result.Code {
	if mode == task.ISRThread {
		return result.Denied
	}

	t.Sleep(d.p.SysTickGetTicks()+uint64(ms), deep != 0)
	d.requestSchedule()
	return result.Done
}

// sysLock implements LOCK(enter/exit): a task in its critical section is
// elected ahead of every other runnable main thread (§4.8 step 2), but
// never ahead of an ISR thread.
func (d *Dispatcher) sysLock(t *task.Task, mode task.Mode, which uint32) result.Code {
	if mode == task.ISRThread {
		return result.Denied
	}

	switch which {
	case LockEnter:
		t.Locked = true
		t.Main.State = task.Locked
	case LockExit:
		t.Locked = false
		if t.Main.State == task.Locked {
			t.Main.State = task.Runnable
		}
	default:
		return result.Invalid
	}
	d.requestSchedule()
	return result.Done
}

// sysInit dispatches the five INIT subtypes (§4.7).
func (d *Dispatcher) sysInit(t *task.Task, mode task.Mode, initType, r2, r3 uint32) result.Code {
	if t.InitDone && initType != InitGetTaskID {
		return result.Denied
	}

	switch initType {
	case InitDevaccess:
		return d.initDevaccess(t, r2)
	case InitDMA:
		return d.initDMA(t, r2, r3)
	case InitDMAShm:
		return d.initDMAShm(t, r2)
	case InitGetTaskID:
		return d.initGetTaskID(t, mode, r2, r3)
	case InitDone:
		t.InitDone = true
		d.devices.EnableRegistered(t.ID)
		return result.Done
	default:
		return result.Invalid
	}
}

// wireGPIO/wireIRQ/wireDevice mirror the original device_t descriptor a
// task builds in its own RAM before calling register_device: plain,
// pointer-free value types so the dispatcher can decode them straight out
// of the caller's memory with an unsafe cast, the same trick kernel/task's
// stack frame builder already relies on.
type wireGPIO = device.GPIODescriptor
type wireIRQ = device.IRQDescriptor

type wireDevice struct {
	Name    [32]byte
	Address uint32
	Size    uint32
	MapMode uint32

	IRQs    [device.MaxIRQsPerDevice]wireIRQ
	NumIRQs uint32

	GPIOs    [device.MaxGPIOsPerDevice]wireGPIO
	NumGPIOs uint32
}

func (d *Dispatcher) initDevaccess(t *task.Task, ptr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(ptr, uint32(unsafe.Sizeof(wireDevice{})), t.ID, task.MainThread) {
		return result.Invalid
	}
	w := (*wireDevice)(unsafe.Pointer(uintptr(ptr)))

	if w.NumIRQs > device.MaxIRQsPerDevice || w.NumGPIOs > device.MaxGPIOsPerDevice {
		return result.Invalid
	}

	udev := device.UserDevice{
		Name:    cstr(w.Name[:]),
		Address: w.Address,
		Size:    w.Size,
		MapMode: device.MapMode(w.MapMode),
		IRQs:    w.IRQs[:w.NumIRQs],
		GPIOs:   w.GPIOs[:w.NumGPIOs],
	}

	_, res := d.devices.RegisterDevice(t.ID, udev)
	return res
}

type wireDMA struct {
	Ctrl, Stream, Channel uint32

	Size int32

	InAddr    uint32
	InPrio    uint32
	OutAddr   uint32
	OutPrio   uint32
	FlowCtrl  uint32
	Direction uint32
	Mode      uint32
	DataSize  uint32

	MemInc uint32
	DevInc uint32
}

func (d *Dispatcher) initDMA(t *task.Task, descPtr, outIDPtr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(descPtr, uint32(unsafe.Sizeof(wireDMA{})), t.ID, task.MainThread) {
		return result.Invalid
	}
	if outIDPtr != 0 && !d.san.IsPointerInSlot(outIDPtr, t.ID, task.MainThread) {
		return result.Invalid
	}
	w := (*wireDMA)(unsafe.Pointer(uintptr(descPtr)))

	params := platform.DMAParams{
		Channel:   int(w.Channel),
		Size:      int(w.Size),
		InAddr:    w.InAddr,
		InPrio:    platform.DMAPriority(w.InPrio),
		OutAddr:   w.OutAddr,
		OutPrio:   platform.DMAPriority(w.OutPrio),
		FlowCtrl:  platform.DMAFlowControl(w.FlowCtrl),
		Direction: platform.DMADirection(w.Direction),
		Mode:      platform.DMAMode(w.Mode),
		DataSize:  platform.DMADataSize(w.DataSize),
		MemInc:    w.MemInc != 0,
		DevInc:    w.DevInc != 0,
	}

	id, res := d.dmaArb.RegisterDMA(t.ID, int(w.Ctrl), int(w.Stream), int(w.Channel), params)
	if res == result.Done && outIDPtr != 0 {
		*(*uint32)(unsafe.Pointer(uintptr(outIDPtr))) = uint32(id)
	}
	return res
}

type wireDMAShm struct {
	Peer   uint32
	Base   uint32
	Size   uint32
	Access uint32
}

func (d *Dispatcher) initDMAShm(t *task.Task, ptr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(ptr, uint32(unsafe.Sizeof(wireDMAShm{})), t.ID, task.MainThread) {
		return result.Invalid
	}
	w := (*wireDMAShm)(unsafe.Pointer(uintptr(ptr)))

	return d.dmaArb.RegisterDMAShm(t.ID, task.ID(w.Peer), w.Base, w.Size, task.DMAAccess(w.Access))
}

func (d *Dispatcher) initGetTaskID(t *task.Task, mode task.Mode, namePtr, outIDPtr uint32) result.Code {
	const maxName = 16
	if !d.san.IsDataPointerInSlot(namePtr, maxName, t.ID, mode) {
		return result.Invalid
	}
	if !d.san.IsPointerInSlot(outIDPtr, t.ID, mode) {
		return result.Invalid
	}

	name := cstr(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(namePtr))), maxName))
	id := d.tasks.FindByName(name)
	if id == task.Unused {
		return result.Invalid
	}

	*(*uint32)(unsafe.Pointer(uintptr(outIDPtr))) = uint32(id)
	return result.Done
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// sysIPC dispatches the four IPC subtypes over the task's single-slot
// mailbox (§3 Mailbox, §4.7). Every message is the mailbox's fixed
// IPCMaxSize datagram; r2 always names the caller's own buffer, r1 the
// subtype, and (for SEND) r3 the destination task id.
func (d *Dispatcher) sysIPC(t *task.Task, mode task.Mode, ipcType, r2, r3 uint32) result.Code {
	switch ipcType {
	case IPCRecvSync:
		return d.ipcRecvSync(t, mode, r2)
	case IPCSendSync:
		return d.ipcSend(t, mode, task.ID(r3), r2, true)
	case IPCRecvAsync:
		return d.ipcRecvAsync(t, mode, r2)
	case IPCSendAsync:
		return d.ipcSend(t, mode, task.ID(r3), r2, false)
	default:
		return result.Invalid
	}
}

func (d *Dispatcher) ipcRecvSync(t *task.Task, mode task.Mode, bufPtr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(bufPtr, task.IPCMaxSize, t.ID, mode) {
		return result.Invalid
	}

	if t.Inbox.Full {
		deliver(t, bufPtr)
		return result.Done
	}

	// Nothing pending: park the caller until a SEND targets it. The
	// softirq drain loop checks BlockedRecv and skips writing a return
	// value for this turn; ipcSend writes it directly once delivered.
	t.BlockedRecv = true
	t.RecvBufPtr = bufPtr
	t.Main.State = task.Sleeping
	d.requestSchedule()
	return result.Done
}

func (d *Dispatcher) ipcRecvAsync(t *task.Task, mode task.Mode, bufPtr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(bufPtr, task.IPCMaxSize, t.ID, mode) {
		return result.Invalid
	}
	if !t.Inbox.Full {
		return result.Invalid
	}
	deliver(t, bufPtr)
	return result.Done
}

func deliver(t *task.Task, bufPtr uint32) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(bufPtr))), task.IPCMaxSize)
	copy(dst, t.Inbox.Data[:t.Inbox.Len])
	t.Inbox.Full = false
}

// ipcSend implements SEND_SYNC/SEND_ASYNC: SYNC forces the recipient's
// main thread to run next (§4.8 step 5, §4.8 GLOSSARY "FORCE_MAINTHREAD"
// parallel for IPC) once delivered or queued; both reject with BUSY if
// the recipient's single mailbox slot is already occupied.
func (d *Dispatcher) ipcSend(t *task.Task, mode task.Mode, dst task.ID, bufPtr uint32, sync bool) result.Code {
	if !d.san.IsDataPointerInSlot(bufPtr, task.IPCMaxSize, t.ID, mode) {
		return result.Invalid
	}

	peer, err := d.tasks.Get(dst)
	if err != nil {
		return result.Invalid
	}
	if peer.Domain != t.Domain {
		return result.Denied
	}

	if sync && peer.BlockedRecv {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(bufPtr))), task.IPCMaxSize)
		pdst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(peer.RecvBufPtr))), task.IPCMaxSize)
		copy(pdst, src)

		peer.BlockedRecv = false
		peer.Main.State = task.Runnable
		task.WriteReturnValue(peer.Main.SP, uint32(result.Done))
		d.requestSchedule()
		return result.Done
	}

	if peer.Inbox.Full {
		return result.Busy
	}

	peer.Inbox.Full = true
	peer.Inbox.From = t.ID
	peer.Inbox.Len = copy(peer.Inbox.Data[:], unsafe.Slice((*byte)(unsafe.Pointer(uintptr(bufPtr))), task.IPCMaxSize))

	if sync {
		d.sched.WakeInterruptible(peer.ID)
		if peer.Main.State == task.Idle || peer.Main.State == task.Runnable {
			peer.Main.State = task.Forced
		}
		d.requestSchedule()
	}
	return result.Done
}

// sysCfg dispatches the nine CFG subtypes (§4.7).
func (d *Dispatcher) sysCfg(t *task.Task, mode task.Mode, cfgType, r2, r3 uint32) result.Code {
	switch cfgType {
	case CfgGPIOSet:
		high := r3&1 != 0
		return d.devices.GPIOSet(t.ID, int(r2>>8), int(r2&0xff), high)
	case CfgGPIOGet:
		return d.cfgGPIOGet(t, int(r2>>8), int(r2&0xff), r3)
	case CfgGPIOUnlockEXTI:
		return d.devices.UnlockEXTI(t.ID, int(r2))
	case CfgDMAReconf:
		return d.cfgDMAReconf(t, r2, r3)
	case CfgDMAReload:
		return d.dmaArb.ReloadDMA(t.ID, int(r2))
	case CfgDMADisable:
		return d.dmaArb.DisableDMA(t.ID, int(r2))
	case CfgDevMap:
		return d.cfgDevMap(t, r2)
	case CfgDevUnmap:
		return d.cfgDevUnmap(t, r2)
	case CfgDevRelease:
		return d.cfgDevRelease(t, r2)
	default:
		return result.Invalid
	}
}

func (d *Dispatcher) cfgGPIOGet(t *task.Task, slot, gpioIndex int, outPtr uint32) result.Code {
	if !d.san.IsPointerInSlot(outPtr, t.ID, task.MainThread) {
		return result.Invalid
	}
	val, res := d.devices.GPIOGet(t.ID, slot, gpioIndex)
	if res != result.Done {
		return res
	}
	v := uint32(0)
	if val {
		v = 1
	}
	*(*uint32)(unsafe.Pointer(uintptr(outPtr))) = v
	return result.Done
}

func (d *Dispatcher) cfgDMAReconf(t *task.Task, r2, descPtr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(descPtr, uint32(unsafe.Sizeof(wireDMA{})), t.ID, task.MainThread) {
		return result.Invalid
	}
	w := (*wireDMA)(unsafe.Pointer(uintptr(descPtr)))
	params := platform.DMAParams{
		Size: int(w.Size), InAddr: w.InAddr, InPrio: platform.DMAPriority(w.InPrio),
		OutAddr: w.OutAddr, OutPrio: platform.DMAPriority(w.OutPrio),
		Direction: platform.DMADirection(w.Direction),
	}
	return d.dmaArb.ReconfDMA(t.ID, int(r2), params, platform.DMAReconfAll)
}

// deviceSlot resolves a user-facing device handle (an index into the
// caller's own dev_id[] table, per syscalls-cfg-dev.c) to the registrar's
// global slot id.
func (d *Dispatcher) deviceSlot(t *task.Task, userDevID uint32) (int, bool) {
	if userDevID >= task.MaxDevicesPerTask || int(userDevID) >= t.NumDevs {
		return -1, false
	}
	slot := t.DevIDs[userDevID]
	if slot < 0 {
		return -1, false
	}
	return slot, true
}

func (d *Dispatcher) cfgDevMap(t *task.Task, userDevID uint32) result.Code {
	slot, ok := d.deviceSlot(t, userDevID)
	if !ok {
		return result.Denied
	}
	res := d.devices.MapDevice(t.ID, slot)
	if res == result.Done {
		d.requestSchedule()
	}
	return res
}

func (d *Dispatcher) cfgDevUnmap(t *task.Task, userDevID uint32) result.Code {
	slot, ok := d.deviceSlot(t, userDevID)
	if !ok {
		return result.Denied
	}
	res := d.devices.UnmapDevice(t.ID, slot)
	if res == result.Done {
		d.requestSchedule()
	}
	return res
}

func (d *Dispatcher) cfgDevRelease(t *task.Task, userDevID uint32) result.Code {
	slot, ok := d.deviceSlot(t, userDevID)
	if !ok {
		return result.Denied
	}
	res := d.devices.ReleaseDevice(t.ID, slot)
	if res == result.Done {
		d.requestSchedule()
	}
	return res
}

// sysGettick implements GETTICK(MILLI/MICRO/CYCLE): r1 = precision, r2 =
// a caller-owned uint64 output pointer.
func (d *Dispatcher) sysGettick(t *task.Task, mode task.Mode, precision, outPtr uint32) result.Code {
	if !d.san.IsDataPointerInSlot(outPtr, 8, t.ID, mode) {
		return result.Invalid
	}

	var v uint64
	switch precision {
	case PrecMilli:
		v = d.p.SysTickGetTicks()
	case PrecMicro:
		// SysTick only keeps millisecond granularity (arm.SysTick.Init
		// configures a 1ms period); scale up rather than claim precision
		// the timer doesn't have.
		v = d.p.SysTickGetTicks() * 1000
	case PrecCycle:
		v = d.p.DWTGetCycles64()
	default:
		return result.Invalid
	}

	*(*uint64)(unsafe.Pointer(uintptr(outPtr))) = v
	return result.Done
}

// sysGetRandom implements GET_RANDOM: the dispatcher gates the permission
// bit and the output buffer and fills it from kernel/rng.Source. Source
// hands hardware words through as they come; it does not discard the
// first word and does not reject repeated words.
func (d *Dispatcher) sysGetRandom(t *task.Task, mode task.Mode, outPtr, length uint32) result.Code {
	if !t.Permissions.Has(perm.GetRandom) {
		return result.Denied
	}
	if length == 0 {
		return result.Done
	}
	if !d.san.IsDataPointerInSlot(outPtr, length, t.ID, mode) {
		return result.Invalid
	}

	out := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(outPtr))), length)
	var i uint32
	for i = 0; i+4 <= length; i += 4 {
		w := d.rng.Word()
		out[i] = byte(w)
		out[i+1] = byte(w >> 8)
		out[i+2] = byte(w >> 16)
		out[i+3] = byte(w >> 24)
	}
	if i < length {
		w := d.rng.Word()
		for j := 0; i < length; i, j = i+1, j+1 {
			out[i] = byte(w >> (8 * j))
		}
	}
	return result.Done
}

func (d *Dispatcher) requestSchedule() {
	if d.sched != nil {
		d.sched.RequestSchedule()
	}
}
