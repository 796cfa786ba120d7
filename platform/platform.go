// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package platform defines the contract every SoC driver (soc/stm32f4,
// and any future target) must satisfy for the kernel core to run on it.
// The core never touches a register directly; it only calls through a
// Driver, mirroring how board/usbarmory/mk2 and soc/imx6 in the reference
// runtime keep SoC register maps behind package-level APIs instead of
// leaking them into shared code.
package platform

import "time"

// Driver is the capability set the kernel's Memory Protection Manager,
// Device Registrar, DMA Arbiter, Interrupt Pipeline and Scheduler require
// from the underlying silicon. A board wires one concrete Driver at boot
// and the rest of the kernel is compiled against this interface only.
type Driver interface {
	// Clocks
	ClockEnable(device ClockDevice)
	ClockDisable(device ClockDevice)
	SetSysclock(enableHSE, enablePLL bool) error

	// GPIO
	GPIOConfigure(cfg GPIOConfig) error
	GPIOSet(port, pin int, high bool)
	GPIOGet(port, pin int) bool

	// EXTI
	EXTIConfig(port, pin int, trigger EXTITrigger) error
	EXTIEnable(pin int)
	EXTIDisable(pin int)
	EXTIClearPending(pin int)
	EXTIGetPendingLines(irq int) uint32
	EXTIGetSyscfgPort(pin int) int

	// NVIC
	NVICEnable(irq int)
	NVICDisable(irq int)
	NVICClearPending(irq int)
	SystemReset()

	// MPU
	MPURegionConfig(cfg MPURegionConfig) error
	MPURegionDisable(region int) error
	MPUEnable(on bool)

	// DMA
	DMAInit(ctrl, stream int, params DMAParams) error
	DMAReconf(ctrl, stream int, params DMAParams, mask DMAReconfMask) error
	DMAEnable(ctrl, stream int)
	DMADisable(ctrl, stream int)
	DMAResetStream(ctrl, stream int)
	DMAGetStatus(ctrl, stream int) DMAStatus
	DMACleanInt(ctrl, stream int)

	// Timing
	SysTickInit(reload uint32)
	SysTickGetTicks() uint64
	DWTInit()
	DWTGetCycles() uint32
	DWTGetCycles64() uint64

	// Entropy
	TRNGWord() (word uint32, result TRNGResult)
}

// ClockDevice identifies an RCC-gated peripheral. Concrete values are
// assigned by each soc package; the core only ever forwards the value it
// received from a device declaration.
type ClockDevice uint32

// GPIOConfig mirrors the original kernel's dev_gpio_info_t contract: mode,
// type, speed, pull and alternate function, plus optional EXTI wiring.
type GPIOConfig struct {
	Port int
	Pin  int

	Mode  GPIOMode
	Type  GPIOType
	Speed GPIOSpeed
	PuPd  GPIOPuPd
	AF    int
}

type GPIOMode int

const (
	GPIOModeInput GPIOMode = iota
	GPIOModeOutput
	GPIOModeAlternate
	GPIOModeAnalog
)

type GPIOType int

const (
	GPIOTypePushPull GPIOType = iota
	GPIOTypeOpenDrain
)

type GPIOSpeed int

const (
	GPIOSpeedLow GPIOSpeed = iota
	GPIOSpeedMedium
	GPIOSpeedHigh
	GPIOSpeedVeryHigh
)

type GPIOPuPd int

const (
	GPIONoPull GPIOPuPd = iota
	GPIOPullUp
	GPIOPullDown
)

// EXTITrigger selects which pin transition raises the line.
type EXTITrigger int

const (
	EXTITriggerNone EXTITrigger = iota
	EXTITriggerRising
	EXTITriggerFalling
	EXTITriggerBoth
)

// MPURegionConfig is the platform-neutral mirror of arm.RegionConfig; the
// kernel/mpu manager builds these from task layout and the driver
// translates to ARMv7-M register writes.
type MPURegionConfig struct {
	Number int
	Base   uint32
	Size   uint64
	Perm   MPUAccessPerm
	XN     bool
	B      bool
	S      bool
	SRD    uint8
}

type MPUAccessPerm uint32

const (
	MPUNoAccess MPUAccessPerm = iota
	MPUPrivRW
	MPUPrivRWUnprivRO
	MPUFullRW
	_
	MPUPrivRO
	MPUFullRO
)

// DMAParams mirrors the original kernel's dma_t declaration structure.
type DMAParams struct {
	Channel int

	Size int

	InAddr    uint32
	InPrio    DMAPriority
	OutAddr   uint32
	OutPrio   DMAPriority
	FlowCtrl  DMAFlowControl
	Direction DMADirection
	Mode      DMAMode
	DataSize  DMADataSize

	MemInc bool
	DevInc bool
}

type DMAReconfMask uint32

const (
	DMAReconfHandlers DMAReconfMask = 1 << iota
	DMAReconfBufIn
	DMAReconfBufOut
	DMAReconfBufSize
	DMAReconfMode
	DMAReconfPrio
	DMAReconfDir
	DMAReconfAll = DMAReconfHandlers | DMAReconfBufIn | DMAReconfBufOut |
		DMAReconfBufSize | DMAReconfMode | DMAReconfPrio | DMAReconfDir
)

type DMAMode int

const (
	DMADirectMode DMAMode = iota
	DMAFIFOMode
	DMACircularMode
)

type DMADirection int

const (
	DMAPeripheralToMemory DMADirection = iota
	DMAMemoryToPeripheral
	DMAMemoryToMemory
)

type DMAPriority int

const (
	DMAPriorityLow DMAPriority = iota
	DMAPriorityMedium
	DMAPriorityHigh
	DMAPriorityVeryHigh
)

type DMADataSize int

const (
	DMADataByte DMADataSize = iota
	DMADataHalfword
	DMADataWord
)

type DMAFlowControl int

const (
	DMAFlowControlDMA DMAFlowControl = iota
	DMAFlowControlDevice
)

// DMAStatus is the decoded content of a stream's interrupt status bits
// (transfer complete, half-transfer, transfer error, FIFO error, direct
// mode error).
type DMAStatus struct {
	Complete     bool
	HalfComplete bool
	TransferErr  bool
	FIFOErr      bool
	DirectModeErr bool
}

// TRNGResult mirrors soc_rng_manager's return classes: a successful word,
// a transient clock error (retry after re-enabling the clock) or a seed
// error (retry after toggling RNGEN).
type TRNGResult int

const (
	TRNGOk TRNGResult = iota
	TRNGSeedError
	TRNGClockError
	TRNGNotReady
)

// TickDuration is the SysTick period the core assumes throughout (1ms).
// No kernel package reads it; sleep deadlines are kept in raw ticks.
const TickDuration = time.Millisecond
