// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/sanitize"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// fakeDriver overrides only the platform.Driver DMA methods the arbiter
// calls; every other method panics via the embedded nil interface.
type fakeDriver struct {
	platform.Driver

	initErr, reconfErr error

	initCalls, reconfCalls, resetCalls, enableCalls, disableCalls, cleanCalls int
	status                                                                   platform.DMAStatus
}

func (f *fakeDriver) DMAInit(ctrl, stream int, params platform.DMAParams) error {
	f.initCalls++
	return f.initErr
}

func (f *fakeDriver) DMAReconf(ctrl, stream int, params platform.DMAParams, mask platform.DMAReconfMask) error {
	f.reconfCalls++
	return f.reconfErr
}

func (f *fakeDriver) DMAEnable(ctrl, stream int)     { f.enableCalls++ }
func (f *fakeDriver) DMADisable(ctrl, stream int)    { f.disableCalls++ }
func (f *fakeDriver) DMAResetStream(ctrl, stream int) { f.resetCalls++ }
func (f *fakeDriver) DMAGetStatus(ctrl, stream int) platform.DMAStatus { return f.status }
func (f *fakeDriver) DMACleanInt(ctrl, stream int)   { f.cleanCalls++ }

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
			EntryPoint:  0x08010000,
			Priority:    1,
			StackSize:   0x400,
			Permissions: perm.DMA,
		},
		{
			ID: task.App2, Name: "app2", Slot: 1, NumSlots: 1,
			RAMStart: 0x20002000, RAMEnd: 0x20003000,
			TxtStart: 0x08011000, TxtEnd: 0x08012000,
			EntryPoint: 0x08011000,
			Priority:   1,
			StackSize:  0x400,
		},
	}
}

func newFixture() (*Arbiter, *task.Table, *fakeDriver) {
	tasks := task.NewTable(testLayout())
	p := &fakeDriver{}
	a := NewArbiter(p, tasks, testLogger())
	a.BindChecker(sanitize.New(tasks, sanitize.ISRStackWindow{Top: 0x10010000, Size: 0x1000}))
	return a, tasks, p
}

func testParams() platform.DMAParams {
	return platform.DMAParams{
		Channel: 2, Size: 64,
		InAddr: 0x40011004, OutAddr: 0x20001100,
		Direction: platform.DMAMemoryToPeripheral,
	}
}

func TestRegisterDMASucceedsAndProgramsDisabled(t *testing.T) {
	a, tasks, p := newFixture()

	id, res := a.RegisterDMA(task.App1, 1, 3, 2, testParams())
	require.Equal(t, result.Done, res)
	require.Equal(t, 1, p.initCalls)
	require.Equal(t, 1, tasks.MustGet(task.App1).NumDMAs)
	require.Equal(t, id, tasks.MustGet(task.App1).DMAIDs[0])

	status, res := a.Status(task.App1, id)
	require.Equal(t, result.Done, res)
	require.Equal(t, p.status, status)
}

func TestRegisterDMADeniedWithoutPermission(t *testing.T) {
	a, _, _ := newFixture()

	_, res := a.RegisterDMA(task.App2, 1, 3, 2, testParams())
	require.Equal(t, result.Denied, res)
}

func TestRegisterDMAInvalidOutOfBoundsStreamOrController(t *testing.T) {
	a, _, _ := newFixture()

	_, res := a.RegisterDMA(task.App1, 0, 3, 2, testParams())
	require.Equal(t, result.Invalid, res, "controller numbering is 1-2, not 0-based")

	_, res = a.RegisterDMA(task.App1, 1, 8, 2, testParams())
	require.Equal(t, result.Invalid, res, "stream numbering is 0-7")
}

func TestRegisterDMABusyWhenControllerStreamPairAlreadyClaimed(t *testing.T) {
	a, _, _ := newFixture()

	_, res := a.RegisterDMA(task.App1, 1, 3, 2, testParams())
	require.Equal(t, result.Done, res)

	// Same controller/stream, different channel: still aliases per
	// dma_stream_is_already_registered's exact semantics.
	_, res = a.RegisterDMA(task.App1, 1, 3, 5, testParams())
	require.Equal(t, result.Busy, res)
}

func TestRegisterDMABusyWhenPerTaskLimitReached(t *testing.T) {
	a, _, _ := newFixture()

	for s := 0; s < task.MaxDMAPerTask; s++ {
		_, res := a.RegisterDMA(task.App1, 1, s, 0, testParams())
		require.Equal(t, result.Done, res)
	}

	_, res := a.RegisterDMA(task.App1, 2, 0, 0, testParams())
	require.Equal(t, result.Busy, res)
}

func TestRegisterDMAInvalidWhenDriverRejectsInit(t *testing.T) {
	a, _, p := newFixture()
	p.initErr = require.AnError

	_, res := a.RegisterDMA(task.App1, 1, 3, 2, testParams())
	require.Equal(t, result.Invalid, res)
}

func TestRegisterDMAInvalidWhenMemoryBufferOutsideOwnRAMAndNoGrant(t *testing.T) {
	a, _, _ := newFixture()

	params := testParams()
	params.OutAddr = 0x20002100 // App2's RAM slot, not App1's

	_, res := a.RegisterDMA(task.App1, 1, 3, 2, params)
	require.Equal(t, result.Invalid, res)
}

func TestRegisterDMASucceedsOntoAGrantedCrossTaskBuffer(t *testing.T) {
	a, _, _ := newFixture()

	// MemoryToPeripheral reads its memory-side (M0AR) buffer, so the
	// matching grant direction is DMARead.
	res := a.RegisterDMAShm(task.App2, task.App1, 0x20002100, 64, task.DMARead)
	require.Equal(t, result.Done, res, "App2 grants App1 read access into its own RAM")

	params := testParams()
	params.OutAddr = 0x20002100 // App2's buffer, granted to App1 as DMARead

	_, res = a.RegisterDMA(task.App1, 1, 3, 2, params)
	require.Equal(t, result.Done, res)
}

func TestRegisterDMAInvalidWhenGrantDirectionDoesNotMatch(t *testing.T) {
	a, _, _ := newFixture()

	// Grant is DMAWrite, but MemoryToPeripheral reads the memory-side
	// buffer (the arbiter checks DMARead for that direction) — mismatch.
	res := a.RegisterDMAShm(task.App2, task.App1, 0x20002100, 64, task.DMAWrite)
	require.Equal(t, result.Done, res)

	params := testParams()
	params.Direction = platform.DMAMemoryToPeripheral
	params.OutAddr = 0x20002100

	_, res = a.RegisterDMA(task.App1, 1, 3, 2, params)
	require.Equal(t, result.Invalid, res)
}

func TestRegisterDMAMemoryToMemoryValidatesBothEnds(t *testing.T) {
	a, _, _ := newFixture()

	params := testParams()
	params.Direction = platform.DMAMemoryToMemory
	params.InAddr = 0x20001100  // App1's own RAM: fine as the read side
	params.OutAddr = 0x20002100 // App2's RAM, no grant: must fail

	_, res := a.RegisterDMA(task.App1, 1, 3, 2, params)
	require.Equal(t, result.Invalid, res)

	res = a.RegisterDMAShm(task.App2, task.App1, 0x20002100, 64, task.DMAWrite)
	require.Equal(t, result.Done, res)

	_, res = a.RegisterDMA(task.App1, 1, 3, 2, params)
	require.Equal(t, result.Done, res)
}

func TestReconfDMARevalidatesBuffersAgainstTheMergedDirection(t *testing.T) {
	a, _, _ := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams()) // MemoryToPeripheral, OutAddr in own RAM

	// Flip direction to MemoryToMemory without supplying a valid InAddr:
	// the existing OutAddr survives unmasked, but the new InAddr (still
	// the descriptor's old peripheral register address) is no longer a
	// valid memory-side operand under the new direction.
	res := a.ReconfDMA(task.App1, id, platform.DMAParams{Direction: platform.DMAMemoryToMemory}, platform.DMAReconfDir)
	require.Equal(t, result.Invalid, res)
}

func TestReconfDMARewritesOnlyMaskedFields(t *testing.T) {
	a, _, p := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams())

	newParams := platform.DMAParams{InAddr: 0x20001200, OutAddr: 0x40011100, Size: 128}
	res := a.ReconfDMA(task.App1, id, newParams, platform.DMAReconfBufIn|platform.DMAReconfBufSize)
	require.Equal(t, result.Done, res)
	require.Equal(t, 1, p.reconfCalls)

	d := a.streams[id]
	require.Equal(t, newParams.InAddr, d.Params.InAddr)
	require.Equal(t, newParams.Size, d.Params.Size)
	require.Equal(t, testParams().OutAddr, d.Params.OutAddr, "unmasked field must survive untouched")
}

func TestReconfDMAInvalidForNonOwner(t *testing.T) {
	a, _, _ := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams())

	res := a.ReconfDMA(task.App2, id, testParams(), platform.DMAReconfAll)
	require.Equal(t, result.Invalid, res)
}

func TestReloadDMAResetsReinitsAndEnables(t *testing.T) {
	a, _, p := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams())

	res := a.ReloadDMA(task.App1, id)
	require.Equal(t, result.Done, res)
	require.Equal(t, 1, p.resetCalls)
	require.Equal(t, 2, p.initCalls, "once at register, once at reload")
	require.Equal(t, 1, p.enableCalls)
	require.True(t, a.streams[id].Enabled)
}

func TestDisableDMAClearsEnabledBit(t *testing.T) {
	a, _, p := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams())
	a.ReloadDMA(task.App1, id)

	res := a.DisableDMA(task.App1, id)
	require.Equal(t, result.Done, res)
	require.Equal(t, 1, p.disableCalls)
	require.False(t, a.streams[id].Enabled)
}

func TestCleanIntDelegatesToDriverForOwner(t *testing.T) {
	a, _, p := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams())

	res := a.CleanInt(task.App1, id)
	require.Equal(t, result.Done, res)
	require.Equal(t, 1, p.cleanCalls)
}

func TestOwnershipChecksRejectUnregisteredOrForeignStreamIDs(t *testing.T) {
	a, _, _ := newFixture()
	id, _ := a.RegisterDMA(task.App1, 1, 3, 2, testParams())

	require.Equal(t, result.Invalid, a.DisableDMA(task.App1, MaxStreams+1))
	require.Equal(t, result.Invalid, a.DisableDMA(task.App2, id))
}

func TestRegisterDMAShmGrantsOnlyWithinGranterOwnRAM(t *testing.T) {
	a, tasks, _ := newFixture()

	res := a.RegisterDMAShm(task.App1, task.App2, 0x20001100, 0x100, task.DMARead)
	require.Equal(t, result.Done, res)

	grant := tasks.MustGet(task.App2).DMAShms[0]
	require.Equal(t, task.App1, grant.SourceTask)
	require.Equal(t, uint32(0x20001100), grant.Base)
	require.Equal(t, 1, tasks.MustGet(task.App2).NumDMAShms)
}

func TestRegisterDMAShmInvalidWhenBufferOutsideGranterSlot(t *testing.T) {
	a, _, _ := newFixture()

	res := a.RegisterDMAShm(task.App1, task.App2, 0x20002000, 0x100, task.DMARead)
	require.Equal(t, result.Invalid, res, "0x20002000 belongs to App2's own slot, not App1's")
}

func TestRegisterDMAShmDeniedAcrossDomains(t *testing.T) {
	a, tasks, _ := newFixture()
	tasks.MustGet(task.App2).Domain = 1

	res := a.RegisterDMAShm(task.App1, task.App2, 0x20001100, 0x100, task.DMARead)
	require.Equal(t, result.Denied, res)
	require.Equal(t, 0, tasks.MustGet(task.App2).NumDMAShms)
}

func TestRegisterDMAShmBusyWhenRecipientGrantTableFull(t *testing.T) {
	a, _, _ := newFixture()

	for i := 0; i < task.MaxDMAShmPerTask; i++ {
		res := a.RegisterDMAShm(task.App1, task.App2, 0x20001100, 0x10, task.DMARead)
		require.Equal(t, result.Done, res)
	}

	res := a.RegisterDMAShm(task.App1, task.App2, 0x20001100, 0x10, task.DMARead)
	require.Equal(t, result.Busy, res)
}
