// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testLayout() []BootEntry {
	return []BootEntry{
		{
			ID: App1, Name: "blink", Slot: 0, NumSlots: 1,
			RAMStart: 0x20000000, RAMEnd: 0x20004000,
			TxtStart: 0x08020000, TxtEnd: 0x08021000,
			EntryPoint: 0x08020001, ISREntry: 0x08020101,
			Priority: 1, StackSize: 1024,
		},
		{
			ID: App2, Name: "echo", Slot: 1, NumSlots: 1,
			RAMStart: 0x20004000, RAMEnd: 0x20008000,
			TxtStart: 0x08021000, TxtEnd: 0x08022000,
			EntryPoint: 0x08021001, Priority: 2, StackSize: 1024,
		},
	}
}

func TestNewTableAssignsRunnableMainThread(t *testing.T) {
	tbl := NewTable(testLayout())

	app1, err := tbl.Get(App1)
	require.NoError(t, err)
	require.Equal(t, "blink", app1.Name)
	require.Equal(t, Runnable, app1.Main.State)
	require.Equal(t, Empty, app1.ISR.State)
	require.Equal(t, -1, app1.Main.MappedDevice)
}

func TestNewTableBuildsInitialFrameBelowStackTop(t *testing.T) {
	tbl := NewTable(testLayout())

	app1 := tbl.MustGet(App1)
	require.Less(t, app1.Main.SP, app1.RAMSlotEnd)
	require.GreaterOrEqual(t, app1.Main.SP, app1.RAMSlotStart)

	// App2 has no ISR entry point; its ISR-thread stack frame is never built.
	app2 := tbl.MustGet(App2)
	require.Zero(t, app2.ISR.SP)
}

func TestCountOnlyCountsOccupiedUserSlots(t *testing.T) {
	tbl := NewTable(testLayout())
	require.Equal(t, 2, tbl.Count())
}

func TestGetRejectsUnusedAndOutOfRange(t *testing.T) {
	tbl := NewTable(testLayout())

	_, err := tbl.Get(Unused)
	require.Error(t, err)

	_, err = tbl.Get(ID(200))
	require.Error(t, err)
}

func TestFindLocatesOwningTaskBySlotRange(t *testing.T) {
	tbl := NewTable(testLayout())

	found := tbl.Find(0x20000100)
	require.NotNil(t, found)
	require.Equal(t, App1, found.ID)

	require.Nil(t, tbl.Find(0x30000000))
}

func TestTaskOwnsRAMRejectsOverflowAndOutOfRange(t *testing.T) {
	tbl := NewTable(testLayout())
	app1 := tbl.MustGet(App1)

	require.True(t, app1.OwnsRAM(app1.RAMSlotStart, 16))
	require.False(t, app1.OwnsRAM(app1.RAMSlotEnd-8, 16))
	require.False(t, app1.OwnsRAM(app1.RAMSlotStart, 0xffffffff))
}

func TestSleepAndWake(t *testing.T) {
	tbl := NewTable(testLayout())
	app1 := tbl.MustGet(App1)

	app1.Sleep(100, false)
	require.Equal(t, Sleeping, app1.Main.State)

	require.False(t, app1.WakeIfDue(50))
	require.True(t, app1.WakeIfDue(100))
	require.Equal(t, Runnable, app1.Main.State)

	app1.Sleep(200, true)
	require.Equal(t, SleepingDeep, app1.Main.State)
	require.False(t, app1.WakeInterruptible())
	require.Equal(t, SleepingDeep, app1.Main.State)
}
