// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package task implements the Task Table (§3, §4.2): the static,
// never-destroyed set of task control blocks the rest of the kernel
// looks tasks up in, and the initial-stack-frame construction the
// scheduler's one-way hand-off and the softirq ISR-thread promotion both
// need.
package task

import "github.com/ewok-project/ewok-kernel/kernel/perm"

// ID identifies a task slot. UNUSED never appears as an owner once boot
// has populated the table from the static layout.
type ID uint8

const (
	Unused ID = iota
	App1
	App2
	App3
	App4
	App5
	App6
	App7
	Softirq
	Kernel
	maxID
)

func (id ID) String() string {
	names := [...]string{"UNUSED", "APP1", "APP2", "APP3", "APP4", "APP5", "APP6", "APP7", "SOFTIRQ", "KERNEL"}
	if int(id) < len(names) {
		return names[id]
	}
	return "INVALID"
}

// Type separates the two built-in kernel tasks (IDLE is folded into the
// scheduler itself, SOFTIRQ is represented here) from ordinary
// unprivileged user tasks.
type Type int

const (
	TypeUser Type = iota
	TypeKernel
)

// Mode selects which of a task's two execution contexts is being
// referenced. Kept as an explicit discriminator over a fused enum per
// the design note in §9: ISR events can arrive while the main thread is
// independently asleep, and both states must be observable at once.
type Mode int

const (
	MainThread Mode = iota
	ISRThread
)

func (m Mode) String() string {
	if m == ISRThread {
		return "ISRTHREAD"
	}
	return "MAINTHREAD"
}

// State is a per-mode lifecycle state (§3).
type State int

const (
	Empty State = iota
	Runnable
	Idle
	Sleeping
	SleepingDeep
	Locked
	Forced
	Fault
	ISRDone
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Runnable:
		return "RUNNABLE"
	case Idle:
		return "IDLE"
	case Sleeping:
		return "SLEEPING"
	case SleepingDeep:
		return "SLEEPING_DEEP"
	case Locked:
		return "LOCKED"
	case Forced:
		return "FORCED"
	case Fault:
		return "FAULT"
	case ISRDone:
		return "ISR_DONE"
	default:
		return "?"
	}
}

// Priority is the scheduling priority used by the MLQ_RR policy; a
// higher numeric value is a higher priority.
type Priority int

// SchedPolicy selects the election rule used for step 6 of §4.8.
type SchedPolicy int

const (
	PolicyRand SchedPolicy = iota
	PolicyRR
	PolicyMLQRR
)

// DMAAccess is the grant direction for a DMA-SHM (§3).
type DMAAccess int

const (
	DMARead DMAAccess = iota
	DMAWrite
)

// DMAShmGrant is a cross-task DMA-addressable buffer grant.
type DMAShmGrant struct {
	SourceTask ID
	Base       uint32
	Size       uint32
	Access     DMAAccess
}

// ExecutionContext holds everything that is per-mode rather than per-task:
// the saved stack pointer, the device currently mapped for that mode, and
// (ISR mode only) which posthook-delivered status/data words the user
// handler should receive.
type ExecutionContext struct {
	State State
	SP    uint32

	// MappedDevice is the device id currently windowed into this
	// context's free MPU region(s); -1 when none.
	MappedDevice int

	// ISR-thread delivery payload, valid only when Mode == ISRThread.
	IRQNumber  int
	Status     uint32
	Data       uint32
	ForceMain  bool
}

// BootEntry is one row of the compile-time static app layout table (§6
// "Boot-info contract"): name, slot geometry, entry points, priority,
// stack size and IPC domain.
type BootEntry struct {
	ID   ID
	Name string

	Slot      int
	NumSlots  int
	RAMStart  uint32
	RAMEnd    uint32
	TxtStart  uint32
	TxtEnd    uint32

	EntryPoint uint32
	ISREntry   uint32

	Priority  Priority
	StackSize uint32
	Domain    int

	Permissions perm.Bits
}

// IPCMaxSize bounds a single mailbox message, matching the reference
// kernel's fixed IPC buffer rather than a negotiated/variable size.
const IPCMaxSize = 64

// Mailbox is a task's single-slot IPC inbox (§4.7's IPC family): the
// original kernel allows exactly one pending message per destination
// task, rejecting a second SEND with BUSY until the first is RECV'd.
type Mailbox struct {
	Full bool
	From ID
	Data [IPCMaxSize]byte
	Len  int
}

// MaxDevicesPerTask bounds dev_id[]; device windows come from two free
// MPU regions, so no task can usefully map more than that (§3).
const MaxDevicesPerTask = 2

// MaxDMAPerTask and MaxDMAShmPerTask bound the per-task DMA and DMA-SHM
// arrays; chosen generously relative to the two DMA controllers x eight
// streams the hardware exposes.
const (
	MaxDMAPerTask    = 8
	MaxDMAShmPerTask = 8
)

// Task is one task control block (§3's task_t).
type Task struct {
	ID   ID
	Name string
	Type Type

	Slot     int
	NumSlots int

	RAMSlotStart uint32
	RAMSlotEnd   uint32
	TxtSlotStart uint32
	TxtSlotEnd   uint32

	EntryPoint uint32
	ISREntry   uint32

	Priority  Priority
	StackSize uint32
	Domain    int

	Permissions perm.Bits

	Main ExecutionContext
	ISR  ExecutionContext

	InitDone bool

	DevIDs        [MaxDevicesPerTask]int
	NumDevs       int
	NumDevsMapped int

	DMAIDs  [MaxDMAPerTask]int
	NumDMAs int

	DMAShms    [MaxDMAShmPerTask]DMAShmGrant
	NumDMAShms int

	// SleepUntil is the absolute tick deadline for Sleeping/SleepingDeep;
	// meaningless otherwise.
	SleepUntil uint64

	// Locked is true while the task holds a scheduling critical section
	// (LOCK syscall family); independent of Main.State so a locked task
	// can still be observed mid-syscall.
	Locked bool

	// ForcedBy is initialised to Unused by NewTable; no syscall or
	// scheduler path assigns it, so it does not record an IPC sender.
	ForcedBy ID

	// Inbox is this task's single-slot IPC mailbox.
	Inbox Mailbox

	// BlockedRecv is true while the task is parked in a blocking
	// IPC_RECV_SYNC with no message yet pending (§4.7).
	BlockedRecv bool

	// RecvBufPtr is the caller-owned buffer address a blocked
	// IPC_RECV_SYNC will copy its eventual message into, valid only
	// while BlockedRecv is true.
	RecvBufPtr uint32
}

// Context returns the execution context for the given mode.
func (t *Task) Context(mode Mode) *ExecutionContext {
	if mode == ISRThread {
		return &t.ISR
	}
	return &t.Main
}

// OwnsRAM reports whether [base, base+size) lies entirely inside the
// task's RAM slot range, with overflow-safe addition per §4.7's pointer
// validation rule (ptr+size >= ptr).
func (t *Task) OwnsRAM(base, size uint32) bool {
	end := base + size
	return end >= base && base >= t.RAMSlotStart && end <= t.RAMSlotEnd
}

// OwnsText reports whether [base, base+size) lies entirely inside the
// task's text/rodata slot range.
func (t *Task) OwnsText(base, size uint32) bool {
	end := base + size
	return end >= base && base >= t.TxtSlotStart && end <= t.TxtSlotEnd
}
