// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package syscall

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ewok-project/ewok-kernel/kernel/device"
	"github.com/ewok-project/ewok-kernel/kernel/dma"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/sanitize"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// fakeDriver stubs every platform.Driver method; GETTICK reads back the
// two timing fields (GET_RANDOM draws from fakeEntropy instead), nothing
// else here is exercised by a syscall dispatch.
type fakeDriver struct {
	ticks  uint64
	cycles uint64
}

func (f *fakeDriver) ClockEnable(platform.ClockDevice)              {}
func (f *fakeDriver) ClockDisable(platform.ClockDevice)             {}
func (f *fakeDriver) SetSysclock(bool, bool) error                  { return nil }
func (f *fakeDriver) GPIOConfigure(platform.GPIOConfig) error       { return nil }
func (f *fakeDriver) GPIOSet(int, int, bool)                        {}
func (f *fakeDriver) GPIOGet(int, int) bool                         { return false }
func (f *fakeDriver) EXTIConfig(int, int, platform.EXTITrigger) error { return nil }
func (f *fakeDriver) EXTIEnable(int)                                {}
func (f *fakeDriver) EXTIDisable(int)                               {}
func (f *fakeDriver) EXTIClearPending(int)                          {}
func (f *fakeDriver) EXTIGetPendingLines(int) uint32                { return 0 }
func (f *fakeDriver) EXTIGetSyscfgPort(int) int                     { return 0 }
func (f *fakeDriver) NVICEnable(int)                                {}
func (f *fakeDriver) NVICDisable(int)                               {}
func (f *fakeDriver) NVICClearPending(int)                          {}
func (f *fakeDriver) SystemReset()                                  {}
func (f *fakeDriver) MPURegionConfig(platform.MPURegionConfig) error { return nil }
func (f *fakeDriver) MPURegionDisable(int) error                    { return nil }
func (f *fakeDriver) MPUEnable(bool)                                {}
func (f *fakeDriver) DMAInit(int, int, platform.DMAParams) error    { return nil }
func (f *fakeDriver) DMAReconf(int, int, platform.DMAParams, platform.DMAReconfMask) error {
	return nil
}
func (f *fakeDriver) DMAEnable(int, int)                       {}
func (f *fakeDriver) DMADisable(int, int)                      {}
func (f *fakeDriver) DMAResetStream(int, int)                  {}
func (f *fakeDriver) DMAGetStatus(int, int) platform.DMAStatus { return platform.DMAStatus{} }
func (f *fakeDriver) DMACleanInt(int, int)                     {}
func (f *fakeDriver) SysTickInit(uint32)                       {}
func (f *fakeDriver) SysTickGetTicks() uint64                  { return f.ticks }
func (f *fakeDriver) DWTInit()                                 {}
func (f *fakeDriver) DWTGetCycles() uint32                     { return uint32(f.cycles) }
func (f *fakeDriver) DWTGetCycles64() uint64                   { return f.cycles }
func (f *fakeDriver) TRNGWord() (uint32, platform.TRNGResult)  { return 0, platform.TRNGOk }

type fakeScheduler struct {
	reqs int
	woke []task.ID
}

func (f *fakeScheduler) RequestSchedule()            { f.reqs++ }
func (f *fakeScheduler) WakeInterruptible(id task.ID) { f.woke = append(f.woke, id) }

type fakeEntropy struct {
	words []uint32
	i     int
}

func (f *fakeEntropy) Word() uint32 {
	w := f.words[f.i%len(f.words)]
	f.i++
	return w
}

func testLogger() *klog.Logger {
	return klog.New(discardWriter{}, klog.Debug)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLayout() []task.BootEntry {
	return []task.BootEntry{
		{
			ID: task.App1, Name: "app1", Slot: 0, NumSlots: 1,
			RAMStart: 0x20001000, RAMEnd: 0x20002000,
			TxtStart: 0x08010000, TxtEnd: 0x08011000,
			EntryPoint: 0x08010000, ISREntry: 0x08010100,
			Priority: 1, StackSize: 0x400,
			Permissions: perm.GetRandom,
		},
		{
			ID: task.App2, Name: "app2", Slot: 1, NumSlots: 1,
			RAMStart: 0x20002000, RAMEnd: 0x20003000,
			TxtStart: 0x08011000, TxtEnd: 0x08012000,
			EntryPoint: 0x08011000,
			Priority:   1, StackSize: 0x400,
		},
	}
}

// pokeArgs writes a syscall's r0..r3 into the frame already built at sp
// by task.BuildInitialFrame (kernel/task/table.go's NewTable), the same
// eight-word ARMv7-M exception frame task.ReadSyscallArgs decodes.
func pokeArgs(sp, r0, r1, r2, r3 uint32) {
	words := (*[4]uint32)(unsafe.Pointer(uintptr(sp)))
	words[0], words[1], words[2], words[3] = r0, r1, r2, r3
}

func readU32(addr uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(addr)))
}

func readU64(addr uint32) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(addr)))
}

func readBytes(addr uint32, n int) []byte {
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)...)
}

func writeBytes(addr uint32, b []byte) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(b)), b)
}

type fixture struct {
	disp  *Dispatcher
	tasks *task.Table
	p     *fakeDriver
	sched *fakeScheduler
	rng   *fakeEntropy
}

func newFixture() *fixture {
	tasks := task.NewTable(testLayout())
	log := testLogger()
	devices := device.NewRegistrar(&fakeDriver{}, tasks, log)
	san := sanitize.New(tasks, sanitize.ISRStackWindow{Top: 0x10010000, Size: 0x1000})
	p := &fakeDriver{}
	dmaArb := dma.NewArbiter(p, tasks, log)
	dmaArb.BindChecker(san)
	rng := &fakeEntropy{words: []uint32{0xaabbccdd}}
	sched := &fakeScheduler{}

	disp := NewDispatcher(tasks, devices, dmaArb, p, rng, san, log)
	disp.SetScheduler(sched)

	return &fixture{disp: disp, tasks: tasks, p: p, sched: sched, rng: rng}
}

func TestDispatchYieldIdlesAndReschedules(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)

	pokeArgs(app1.Main.SP, uint32(SysYield), 0, 0, 0)
	res := f.disp.Dispatch(task.App1, task.MainThread)

	require.Equal(t, result.Done, res)
	require.Equal(t, task.Idle, app1.Main.State)
	require.Equal(t, 1, f.sched.reqs)
}

func TestDispatchYieldDeniedFromISRThread(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)

	pokeArgs(app1.ISR.SP, uint32(SysYield), 0, 0, 0)
	res := f.disp.Dispatch(task.App1, task.ISRThread)

	require.Equal(t, result.Denied, res)
}

func TestDispatchSleepSetsDeadlineFromCurrentTicks(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)
	f.p.ticks = 100

	pokeArgs(app1.Main.SP, uint32(SysSleep), 500, 0, 0)
	res := f.disp.Dispatch(task.App1, task.MainThread)

	require.Equal(t, result.Done, res)
	require.Equal(t, task.Sleeping, app1.Main.State)
	require.Equal(t, uint64(600), app1.SleepUntil)
}

func TestDispatchLockEnterThenExitRestoresRunnable(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)

	pokeArgs(app1.Main.SP, uint32(SysLock), LockEnter, 0, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.True(t, app1.Locked)
	require.Equal(t, task.Locked, app1.Main.State)

	pokeArgs(app1.Main.SP, uint32(SysLock), LockExit, 0, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.False(t, app1.Locked)
	require.Equal(t, task.Runnable, app1.Main.State)
}

func TestSysInitDoneGatesEverythingButGetTaskID(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)

	pokeArgs(app1.Main.SP, uint32(SysInit), InitDone, 0, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.True(t, app1.InitDone)

	namePtr := app1.RAMSlotStart + 0x100
	outPtr := app1.RAMSlotStart + 0x200
	writeBytes(namePtr, []byte("app2\x00"))

	pokeArgs(app1.Main.SP, uint32(SysInit), InitGetTaskID, namePtr, outPtr)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.Equal(t, uint32(task.App2), readU32(outPtr))

	pokeArgs(app1.Main.SP, uint32(SysInit), InitDevaccess, namePtr, 0)
	require.Equal(t, result.Denied, f.disp.Dispatch(task.App1, task.MainThread))
}

func TestIPCRecvSyncBlocksThenSendSyncDeliversDirectly(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1) // receiver
	app2 := f.tasks.MustGet(task.App2) // sender

	recvBuf := app1.RAMSlotStart + 0x100
	pokeArgs(app1.Main.SP, uint32(SysIPC), IPCRecvSync, recvBuf, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.True(t, app1.BlockedRecv)
	require.Equal(t, recvBuf, app1.RecvBufPtr)
	require.Equal(t, task.Sleeping, app1.Main.State)

	sendBuf := app2.RAMSlotStart + 0x100
	msg := make([]byte, task.IPCMaxSize)
	msg[0], msg[1] = 0xde, 0xad
	writeBytes(sendBuf, msg)

	pokeArgs(app2.Main.SP, uint32(SysIPC), IPCSendSync, sendBuf, uint32(task.App1))
	require.Equal(t, result.Done, f.disp.Dispatch(task.App2, task.MainThread))

	require.False(t, app1.BlockedRecv)
	require.Equal(t, task.Runnable, app1.Main.State)
	require.Equal(t, msg, readBytes(recvBuf, task.IPCMaxSize))

	r0, _, _, _ := task.ReadSyscallArgs(app1.Main.SP)
	require.Equal(t, uint32(result.Done), r0, "the parked receiver's own return value is written once delivered")
}

func TestIPCSendAsyncReturnsBusyWhenInboxAlreadyFull(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)
	app2 := f.tasks.MustGet(task.App2)
	app1.Inbox.Full = true

	sendBuf := app2.RAMSlotStart + 0x100
	pokeArgs(app2.Main.SP, uint32(SysIPC), IPCSendAsync, sendBuf, uint32(task.App1))

	require.Equal(t, result.Busy, f.disp.Dispatch(task.App2, task.MainThread))
}

func TestIPCSendDeniedAcrossDomains(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)
	app2 := f.tasks.MustGet(task.App2)
	app2.Domain = 1

	sendBuf := app2.RAMSlotStart + 0x100
	pokeArgs(app2.Main.SP, uint32(SysIPC), IPCSendSync, sendBuf, uint32(task.App1))

	require.Equal(t, result.Denied, f.disp.Dispatch(task.App2, task.MainThread))
	require.False(t, app1.Inbox.Full)
}

func TestIPCRecvAsyncInvalidWhenNothingPending(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)
	recvBuf := app1.RAMSlotStart + 0x100

	pokeArgs(app1.Main.SP, uint32(SysIPC), IPCRecvAsync, recvBuf, 0)
	require.Equal(t, result.Invalid, f.disp.Dispatch(task.App1, task.MainThread))
}

func TestIPCSendSyncForcesAnIdlePeerWithoutBlockingRecv(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)
	app2 := f.tasks.MustGet(task.App2)
	app1.Main.State = task.Idle

	sendBuf := app2.RAMSlotStart + 0x100
	pokeArgs(app2.Main.SP, uint32(SysIPC), IPCSendSync, sendBuf, uint32(task.App1))

	require.Equal(t, result.Done, f.disp.Dispatch(task.App2, task.MainThread))
	require.True(t, app1.Inbox.Full)
	require.Equal(t, task.Forced, app1.Main.State)
	require.Contains(t, f.sched.woke, task.App1)
}

func TestSysGettickReadsMilliAndCycleFromTheDriver(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)
	f.p.ticks = 12345
	f.p.cycles = 999999

	outPtr := app1.RAMSlotStart + 0x100
	pokeArgs(app1.Main.SP, uint32(SysGettick), PrecMilli, outPtr, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.Equal(t, uint64(12345), readU64(outPtr))

	pokeArgs(app1.Main.SP, uint32(SysGettick), PrecCycle, outPtr, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.Equal(t, uint64(999999), readU64(outPtr))
}

func TestSysGetRandomFillsBufferAndGatesOnPermission(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1) // has perm.GetRandom
	app2 := f.tasks.MustGet(task.App2) // does not

	outPtr := app1.RAMSlotStart + 0x100
	pokeArgs(app1.Main.SP, uint32(SysGetRandom), outPtr, 4, 0)
	require.Equal(t, result.Done, f.disp.Dispatch(task.App1, task.MainThread))
	require.Equal(t, []byte{0xdd, 0xcc, 0xbb, 0xaa}, readBytes(outPtr, 4))

	outPtr2 := app2.RAMSlotStart + 0x100
	pokeArgs(app2.Main.SP, uint32(SysGetRandom), outPtr2, 4, 0)
	require.Equal(t, result.Denied, f.disp.Dispatch(task.App2, task.MainThread))
}

func TestSysCfgDevMapDeniesAnUnownedHandle(t *testing.T) {
	f := newFixture()
	app1 := f.tasks.MustGet(task.App1)

	pokeArgs(app1.Main.SP, uint32(SysCfg), CfgDevMap, 0, 0)
	require.Equal(t, result.Denied, f.disp.Dispatch(task.App1, task.MainThread))
}
