// 32F407/32F439 Discovery board boot wiring
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package discovery

import (
	"github.com/ewok-project/ewok-kernel/kernel"
	"github.com/ewok-project/ewok-kernel/kernel/device"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/mpu"
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/soc/stm32f4"
)

// App text slots follow the kernel's own 64KiB bank, one 16KiB slot per
// task image to match each task's RAMUserSlotSize, linked and flashed
// independently of this kernel (the boot-info contract, spec §6, names
// only where each image starts — not how it gets into flash).
const (
	UserTextBase     = KernelTextBase + KernelTextSize
	UserTextSlotSize = 16 * KBYTE
)

func appTextSlot(n int) (base, end uint32) {
	base = UserTextBase + uint32(n)*UserTextSlotSize
	return base, base + UserTextSlotSize
}

// apps is the board's static task layout (§6 "Boot-info contract"): two
// sample tasks exercising the GPIO-owning blink pattern and the IPC-echo
// pattern the rest of the kernel's tests are grounded on, each pinned to
// one RAM slot and one text slot.
func apps() []task.BootEntry {
	blinkRAMStart := TaskSlot(0)
	blinkTextStart, blinkTextEnd := appTextSlot(0)

	echoRAMStart := TaskSlot(1)
	echoTextStart, echoTextEnd := appTextSlot(1)

	return []task.BootEntry{
		{
			ID: task.App1, Name: "blink",
			Slot: 1, NumSlots: 1,
			RAMStart: blinkRAMStart, RAMEnd: blinkRAMStart + RAMUserSlotSize,
			TxtStart: blinkTextStart, TxtEnd: blinkTextEnd,
			EntryPoint:  blinkTextStart,
			ISREntry:    blinkTextStart + 0x100,
			Priority:    1,
			StackSize:   2 * KBYTE,
			Permissions: perm.GPIO | perm.EXTI,
		},
		{
			ID: task.App2, Name: "echo",
			Slot: 2, NumSlots: 1,
			RAMStart: echoRAMStart, RAMEnd: echoRAMStart + RAMUserSlotSize,
			TxtStart: echoTextStart, TxtEnd: echoTextEnd,
			EntryPoint:  echoTextStart,
			Priority:    2,
			StackSize:   2 * KBYTE,
			Permissions: perm.USART,
		},
	}
}

// socMap is the board's compile-time device map (soc-devmap.c's
// soc_devices_list): the two peripherals the sample apps above claim.
// GPIOD backs the Discovery board's user LEDs (pins 12-15); USART2 is
// the ST-LINK VCP console, shared with kernel/klog here but also
// claimable by a task with perm.USART for its own framed I/O.
func socMap() []device.SocMapEntry {
	return []device.SocMapEntry{
		{
			Name: "gpiod", Address: stm32f4.AHB1PeriphBase + 3*0x400, Size: 0x400,
			Class: perm.GPIO, Clock: stm32f4.ClockGPIOD,
		},
		{
			Name: "usart2", Address: stm32f4.APB1PeriphBase + 0x4400, Size: 0x400,
			Class: perm.USART, Clock: stm32f4.ClockUSART2,
		},
	}
}

// mpuLayout derives the fixed MPU region geometry (§4.1) from this
// board's flash/RAM partitioning in layout.go.
func mpuLayout() mpu.Layout {
	return mpu.Layout{
		SHRBase: FlashBase, SHRSize: 4 * KBYTE,
		KernelTextBase: KernelTextBase, KernelTextSize: KernelTextSize,
		PeriphBase: stm32f4.PeriphBase, PeriphSize: 0x10000000,
		KernelRAMBase: RAMKernBase, KernelRAMSize: RAMKernSize,
		UserRAMBase: RAMUserBase, UserRAMSize: uint32(RAMUserSlots) * RAMUserSlotSize,
		UserTextBase: UserTextBase, UserTextSize: uint32(RAMUserSlots) * UserTextSlotSize,
		ISRStackTop: StackTopISR, ISRStackSize: StackSizeISR,
	}
}

// absoluteEXTI converts a stm32f4 NVIC position number into the absolute
// exception number kernel/irq.Pipeline indexes its vector table by
// (irq.go's nvicOffset: exceptions 0-15 are ARMv7-M core vectors, NVIC
// position 0 starts at 16).
const nvicOffset = 16

func absoluteEXTI(nvicPosition int) int {
	return nvicOffset + nvicPosition
}

// Boot assembles the kernel Executive over this board's driver and task
// layout, registers the two shared EXTI vectors every GPIO-owning task
// can be routed through, and performs the one-way hand-off into the
// first elected task. It never returns.
func Boot() {
	log := klog.New(Console(), klog.Info)

	exec := kernel.New(Driver(), CPU(), log, apps(), socMap(), mpuLayout(), task.PolicyRR)

	exec.Pipeline.RegisterEXTIVector(absoluteEXTI(stm32f4.IRQEXTI9_5))
	exec.Pipeline.RegisterEXTIVector(absoluteEXTI(stm32f4.IRQEXTI15_10))

	exec.Boot()
}
