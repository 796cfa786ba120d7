// ARMv7-M CPU intrinsics
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package arm

// ExecReturn encodes the EXC_RETURN value placed in LR on exception entry,
// consumed by the initial task stack frame builder in kernel/task.
type ExecReturn uint32

const (
	// ReturnToHandlerMSP: return to handler mode, use MSP.
	ReturnToHandlerMSP ExecReturn = 0xfffffff1
	// ReturnToThreadMSP: return to thread mode, use MSP.
	ReturnToThreadMSP ExecReturn = 0xfffffff9
	// ReturnToThreadPSP: return to thread mode, use PSP (every user task,
	// main or ISR thread, resumes with this LR value).
	ReturnToThreadPSP ExecReturn = 0xfffffffd
)

// Control register bit values, written by the one-way scheduler hand-off
// (§4.2) to drop the core into unprivileged thread mode on PSP.
const (
	ControlPrivileged     uint32 = 0x0
	ControlUnprivilegedPSP uint32 = 0x2
)

// defined as platform intrinsics (inline assembly on real silicon)
func irq_enable()
func irq_disable()
func read_psp() uint32
func write_psp(sp uint32)
func read_control() uint32
func write_control(v uint32)
func data_sync_barrier()
func instr_sync_barrier()
func wait_for_interrupt()
func svc0()
func boot_dispatch(sp, entry uint32)

// EnableInterrupts enables IRQ delivery (CPSIE I).
func (cpu *CPU) EnableInterrupts() {
	irq_enable()
}

// DisableInterrupts disables IRQ delivery (CPSID I).
func (cpu *CPU) DisableInterrupts() {
	irq_disable()
}

// SetPSP programs the Process Stack Pointer, used by the scheduler's
// one-way hand-off and by every subsequent context switch.
func (cpu *CPU) SetPSP(sp uint32) {
	write_psp(sp)
}

// PSP returns the current Process Stack Pointer.
func (cpu *CPU) PSP() uint32 {
	return read_psp()
}

// SetControl programs the CONTROL register (privilege level + stack
// selection).
func (cpu *CPU) SetControl(v uint32) {
	write_control(v)
}

// DataSyncBarrier issues a DSB, ensuring all prior memory accesses (notably
// MPU and NVIC register writes) complete before anything after it executes.
func (cpu *CPU) DataSyncBarrier() {
	data_sync_barrier()
}

// InstrSyncBarrier issues an ISB, flushing the pipeline so that
// instructions fetched after it see the effect of a preceding MPU or NVIC
// reprogram.
func (cpu *CPU) InstrSyncBarrier() {
	instr_sync_barrier()
}

// FullBarrier is the DSB+ISB pair the scheduler issues after
// reprogramming the MPU and before switching to the elected task's stack.
func (cpu *CPU) FullBarrier() {
	data_sync_barrier()
	instr_sync_barrier()
}

// WaitForInterrupt issues WFI.
func (cpu *CPU) WaitForInterrupt() {
	wait_for_interrupt()
}

// Barrier issues a DSB, used by internal/reg around every MMIO access
// without requiring callers to hold a *CPU.
func Barrier() {
	data_sync_barrier()
}

// BootDispatch is the scheduler's one-way transfer out of boot code into
// the first elected task: program PSP and branch to entry with r0 == the
// task's boot argument, without any active exception context to return
// from (sched_init's tail asm is a raw branch, not an exception return).
// It never returns.
func (cpu *CPU) BootDispatch(sp, entry uint32) {
	boot_dispatch(sp, entry)
}
