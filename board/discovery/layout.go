// 32F407/32F439 Discovery board app layout
// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package discovery wires kernel/task, kernel/mpu and the soc/stm32f4
// driver to the STM32F407/F439 Discovery board's flash and RAM layout.
// It is the Go analogue of the original firmware's per-board
// arch/boards/<name>/layout definition: fixed, compile-time slot
// addresses rather than a parsed configuration file.
package discovery

// Flash and RAM partitioning, carried over from the reference firmware's
// 32F407 Discovery layout (one flip bank, no DFU/loader slots — this
// kernel boots directly into its task set rather than through a
// bootloader/updater chain, which is out of scope here).
const (
	KBYTE = 1024

	FlashBase = 0x08000000
	FlashSize = 1024 * KBYTE

	// Kernel code and data live in the first 64KiB bank following the
	// vector table.
	KernelTextBase = 0x08020000
	KernelTextSize = 64 * KBYTE

	// Eight fixed-size 16KiB task slots, matching RAM_USER_SIZE.
	RAMUserBase = 0x20000000
	RAMUserSlotSize = 16 * KBYTE
	RAMUserSlots    = 8

	// Kernel RAM: softirq/ISR/idle stacks plus kernel data, one 64KiB
	// bank at 0x10000000, below the user RAM band.
	RAMKernBase = 0x10000000
	RAMKernSize = 64 * KBYTE

	StackTopIdle    = RAMKernBase + RAMKernSize
	StackSizeIdle   = 4 * KBYTE
	StackTopSoftirq = RAMKernBase + RAMKernSize - 4*KBYTE
	StackSizeSoftirq = 4 * KBYTE
	StackTopISR     = RAMKernBase + RAMKernSize - 8*KBYTE
	StackSizeISR    = 4 * KBYTE
)

// TaskSlot returns the base address of the n'th (0-based) user RAM slot.
func TaskSlot(n int) uint32 {
	return RAMUserBase + uint32(n)*RAMUserSlotSize
}

// FrameIsKernel reports whether a stacked exception frame address falls
// within the kernel's idle or softirq stack, mirroring the original
// firmware's frame_is_kernel. A frame on the ISR stack (at or below
// StackTopISR) is not reported as kernel.
func FrameIsKernel(frame uint32) bool {
	return frame <= StackTopIdle && frame > StackTopISR
}
