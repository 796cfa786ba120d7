// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package task

// Sleep transitions a task's main thread to SLEEPING (interruptible: an
// incoming synchronous IPC send or a pending device IRQ addressed to this
// task wakes it early, §4.8 step 3) or SLEEPING_DEEP (only the tick
// deadline wakes it; the SLEEP syscall selects it with a nonzero mode
// argument) until absolute tick deadline
// until.
func (t *Task) Sleep(until uint64, deep bool) {
	t.SleepUntil = until
	if deep {
		t.Main.State = SleepingDeep
	} else {
		t.Main.State = Sleeping
	}
}

// WakeIfDue transitions a sleeping task back to RUNNABLE once now has
// reached its deadline. Returns true if the task woke. A task parked in a
// blocking IPC_RECV_SYNC (BlockedRecv) also sits in SLEEPING with
// SleepUntil left at its zero value and must never be woken by tick
// expiry — only a matching SEND_SYNC wakes it.
func (t *Task) WakeIfDue(now uint64) bool {
	if t.BlockedRecv || t.SleepUntil == 0 {
		return false
	}
	if (t.Main.State == Sleeping || t.Main.State == SleepingDeep) && now >= t.SleepUntil {
		t.Main.State = Runnable
		t.SleepUntil = 0
		return true
	}
	return false
}

// WakeInterruptible wakes a task that is in interruptible SLEEPING state
// (never SLEEPING_DEEP) due to an external event such as an incoming IPC
// send or a device IRQ delivery. Returns true if the task woke.
func (t *Task) WakeInterruptible() bool {
	if t.BlockedRecv {
		return false
	}
	if t.Main.State == Sleeping {
		t.Main.State = Runnable
		return true
	}
	return false
}
