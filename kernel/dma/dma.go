// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma implements the DMA Arbiter (§4.4): it validates a task's
// DMA stream declaration and DMA-SHM grants, guards against two tasks
// aliasing the same controller/stream pair, and is the only component
// that ever flips a stream's enable bit — the userspace caller only ever
// asks for it through INIT_DMA / CFG_DMA_* (dma.h's dma_init_dma /
// dma_reconf_dma / dma_enable_dma_stream).
package dma

import (
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/sanitize"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// MaxStreams is generous relative to the hardware's 2 controllers x 8
// streams, bounding the kernel-resident descriptor table.
const MaxStreams = 16

// Descriptor is the kernel-resident record of a declared DMA stream
// (dma.h's k_dma_t, minus the union with the user-facing dma_t — every
// field the arbiter needs lives here directly).
type Descriptor struct {
	ID    int
	Owner task.ID

	Ctrl, Stream, Channel int

	Params platform.DMAParams

	Registered bool
	Enabled    bool
}

// Arbiter owns every declared DMA stream and is the sole caller of
// platform.Driver's DMA* methods (§5: "DMA stream registers: owned
// exclusively by the DMA arbiter").
type Arbiter struct {
	p     platform.Driver
	tasks *task.Table
	log   *klog.Logger
	san   *sanitize.Checker

	streams [MaxStreams]Descriptor
}

// NewArbiter returns an empty Arbiter. san is nil until the executive
// wires a sanitize.Checker with BindChecker, since the checker itself
// depends on the ISR stack window the board supplies.
func NewArbiter(p platform.Driver, tasks *task.Table, log *klog.Logger) *Arbiter {
	a := &Arbiter{p: p, tasks: tasks, log: log}
	for i := range a.streams {
		a.streams[i].ID = i
		a.streams[i].Owner = task.Unused
	}
	return a
}

// BindChecker wires the pointer-validation checker whose DMA-SHM grant
// lookup validateBuffers (called from RegisterDMA and ReconfDMA) consults
// for a memory-side buffer outside the caller's own RAM slot.
func (a *Arbiter) BindChecker(san *sanitize.Checker) {
	a.san = san
}

func (a *Arbiter) aliases(ctrl, stream int, exclude int) bool {
	for i := range a.streams {
		if i == exclude || !a.streams[i].Registered {
			continue
		}
		if a.streams[i].Ctrl == ctrl && a.streams[i].Stream == stream {
			return true
		}
	}
	return false
}

// RegisterDMA implements INIT_DMA: validates permission, stream bounds
// and controller/stream aliasing (dma.c's dma_stream_is_already_registered
// — one configuration per controller/stream pair, regardless of
// channel), programs the stream disabled, and returns its kernel id.
func (a *Arbiter) RegisterDMA(caller task.ID, ctrl, stream, channel int, params platform.DMAParams) (id int, res result.Code) {
	t, err := a.tasks.Get(caller)
	if err != nil {
		return -1, result.Invalid
	}
	if !t.Permissions.Has(perm.DMA) {
		return -1, result.Denied
	}
	if ctrl < 1 || ctrl > 2 || stream < 0 || stream > 7 || channel < 0 || channel > 7 {
		return -1, result.Invalid
	}
	if t.NumDMAs >= task.MaxDMAPerTask {
		return -1, result.Busy
	}
	if a.aliases(ctrl, stream, -1) {
		return -1, result.Busy
	}
	if !a.validateBuffers(caller, t, params) {
		return -1, result.Invalid
	}

	slot := a.freeSlot()
	if slot < 0 {
		return -1, result.Busy
	}

	if err := a.p.DMAInit(ctrl, stream, params); err != nil {
		return -1, result.Invalid
	}

	a.streams[slot] = Descriptor{
		ID: slot, Owner: caller, Ctrl: ctrl, Stream: stream, Channel: channel,
		Params: params, Registered: true,
	}

	t.DMAIDs[t.NumDMAs] = slot
	t.NumDMAs++

	return slot, result.Done
}

// ReconfDMA implements CFG_DMA_RECONF: only the fields named by mask are
// rewritten, and the stream is disabled around the rewrite if it was
// running (soc/stm32f4's DMAReconf already guards this at the register
// level; the arbiter additionally checks ownership).
func (a *Arbiter) ReconfDMA(caller task.ID, id int, params platform.DMAParams, mask platform.DMAReconfMask) result.Code {
	d, ok := a.owned(caller, id)
	if !ok {
		return result.Invalid
	}

	merged := d.Params
	if mask&platform.DMAReconfBufIn != 0 {
		merged.InAddr = params.InAddr
	}
	if mask&platform.DMAReconfBufOut != 0 {
		merged.OutAddr = params.OutAddr
	}
	if mask&platform.DMAReconfBufSize != 0 {
		merged.Size = params.Size
	}
	if mask&platform.DMAReconfDir != 0 {
		merged.Direction = params.Direction
	}
	if mask&platform.DMAReconfPrio != 0 {
		merged.InPrio = params.InPrio
	}
	t, err := a.tasks.Get(caller)
	if err != nil {
		return result.Invalid
	}
	if !a.validateBuffers(caller, t, merged) {
		return result.Invalid
	}

	if err := a.p.DMAReconf(d.Ctrl, d.Stream, params, mask); err != nil {
		return result.Invalid
	}
	d.Params = merged
	return result.Done
}

// ReloadDMA implements CFG_DMA_RELOAD: re-arms a previously disabled
// stream with its existing configuration (the userspace task masters the
// DMA start time, per dma.h's dma_enable_dma_irq comment).
func (a *Arbiter) ReloadDMA(caller task.ID, id int) result.Code {
	d, ok := a.owned(caller, id)
	if !ok {
		return result.Invalid
	}
	a.p.DMAResetStream(d.Ctrl, d.Stream)
	if err := a.p.DMAInit(d.Ctrl, d.Stream, d.Params); err != nil {
		return result.Invalid
	}
	a.p.DMAEnable(d.Ctrl, d.Stream)
	d.Enabled = true
	return result.Done
}

// DisableDMA implements CFG_DMA_DISABLE.
func (a *Arbiter) DisableDMA(caller task.ID, id int) result.Code {
	d, ok := a.owned(caller, id)
	if !ok {
		return result.Invalid
	}
	a.p.DMADisable(d.Ctrl, d.Stream)
	d.Enabled = false
	return result.Done
}

// Status returns the stream's decoded interrupt status, gated to the
// task that owns it (dma_get_status's caller argument).
func (a *Arbiter) Status(caller task.ID, id int) (platform.DMAStatus, result.Code) {
	d, ok := a.owned(caller, id)
	if !ok {
		return platform.DMAStatus{}, result.Invalid
	}
	return a.p.DMAGetStatus(d.Ctrl, d.Stream), result.Done
}

// CleanInt clears a stream's pending interrupt flags (dma_clean_int);
// called by the Interrupt Pipeline's posthook-equivalent step before
// deferring a DMA completion ISR.
func (a *Arbiter) CleanInt(caller task.ID, id int) result.Code {
	d, ok := a.owned(caller, id)
	if !ok {
		return result.Invalid
	}
	a.p.DMACleanInt(d.Ctrl, d.Stream)
	return result.Done
}

// RegisterDMAShm implements INIT_DMA_SHM: validates that the declared
// buffer lies entirely inside the granting task's own RAM slot (a task
// can only share memory it owns) and records the grant on the
// recipient's task control block for kernel/sanitize to check against
// when the arbiter later arms a transfer that touches it.
func (a *Arbiter) RegisterDMAShm(caller task.ID, peer task.ID, base, size uint32, access task.DMAAccess) result.Code {
	granter, err := a.tasks.Get(caller)
	if err != nil {
		return result.Invalid
	}
	if !granter.OwnsRAM(base, size) {
		return result.Invalid
	}

	recipient, err := a.tasks.Get(peer)
	if err != nil {
		return result.Invalid
	}
	if recipient.Domain != granter.Domain {
		return result.Denied
	}
	if recipient.NumDMAShms >= task.MaxDMAShmPerTask {
		return result.Busy
	}

	recipient.DMAShms[recipient.NumDMAShms] = task.DMAShmGrant{
		SourceTask: caller, Base: base, Size: size, Access: access,
	}
	recipient.NumDMAShms++

	return result.Done
}

// validateBuffers implements §4.4's direction-consistent buffer check: the
// memory-side address a configuration touches must lie either in the
// caller's own RAM slot or in a DMA-SHM grant of the matching direction
// (§8 scenario 3 — no grant means INVAL, regardless of how the stream is
// otherwise configured). The PAR/M0AR register mapping (soc/stm32f4's
// DMAInit/DMAReconf) makes OutAddr the memory-side buffer for both
// peripheral directions; MemoryToMemory treats both addresses as memory
// and checks each independently.
func (a *Arbiter) validateBuffers(caller task.ID, t *task.Task, params platform.DMAParams) bool {
	if params.Size < 0 {
		return false
	}
	size := uint32(params.Size)

	switch params.Direction {
	case platform.DMAPeripheralToMemory:
		return a.ownsOrGranted(caller, t, params.OutAddr, size, task.DMAWrite)
	case platform.DMAMemoryToPeripheral:
		return a.ownsOrGranted(caller, t, params.OutAddr, size, task.DMARead)
	case platform.DMAMemoryToMemory:
		return a.ownsOrGranted(caller, t, params.InAddr, size, task.DMARead) &&
			a.ownsOrGranted(caller, t, params.OutAddr, size, task.DMAWrite)
	default:
		return false
	}
}

func (a *Arbiter) ownsOrGranted(caller task.ID, t *task.Task, addr, size uint32, access task.DMAAccess) bool {
	if t.OwnsRAM(addr, size) {
		return true
	}
	if a.san == nil {
		return false
	}
	return a.san.IsDataPointerInDMAShm(addr, size, access, caller)
}

func (a *Arbiter) owned(caller task.ID, id int) (*Descriptor, bool) {
	if id < 0 || id >= MaxStreams {
		return nil, false
	}
	d := &a.streams[id]
	if !d.Registered || d.Owner != caller {
		return nil, false
	}
	return d, true
}

func (a *Arbiter) freeSlot() int {
	for i := range a.streams {
		if !a.streams[i].Registered {
			return i
		}
	}
	return -1
}
