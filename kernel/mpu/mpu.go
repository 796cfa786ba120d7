// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mpu implements the Memory-Protection Manager (§4.1): it owns
// the eight MPU regions and recomputes the task-specific ones (R4..R7)
// on every scheduler switch, so that the elected thread sees exactly its
// own slot(s) and, in main-thread mode, its currently-mapped device
// windows, or, in ISR-thread mode, the shared ISR stack and the single
// device bound to the firing IRQ.
package mpu

import (
	"github.com/ewok-project/ewok-kernel/internal/bits"
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/platform"
)

// Region numbers, fixed for the life of the kernel (§4.1's R0..R7).
const (
	RegionSHR = iota
	RegionKernelText
	RegionPeripherals
	RegionKernelRAM
	RegionUserRAM
	RegionUserText
	RegionFree0 // second device window in MAINTHREAD mode; the firing IRQ's device in ISRTHREAD mode
	RegionFree1 // first device window in MAINTHREAD mode; ISR stack window in ISRTHREAD mode
)

// MaxMappedDevices is the number of free regions (R6, R7) available for a
// main thread's currently-mapped devices (§3: num_devs_mmapped <= 2).
const MaxMappedDevices = 2

// Layout carries the board-fixed addresses the manager programs once at
// boot and reuses on every switch (§4.1's "Fixed regions" plus the ISR
// stack window shared across every task's ISR-thread context, §4.2/§5).
type Layout struct {
	SHRBase, SHRSize               uint32
	KernelTextBase, KernelTextSize uint32
	PeriphBase, PeriphSize         uint32
	KernelRAMBase, KernelRAMSize   uint32
	UserRAMBase, UserRAMSize       uint32
	UserTextBase, UserTextSize     uint32
	ISRStackTop, ISRStackSize      uint32
}

// DeviceWindow is everything the manager needs to program a device's MPU
// window: base/size (already validated as MPU-region-legal by the
// registrar), whether it is read-only, and its own subregion mask (a
// device smaller than its region's 8 subregions uses this the same way
// the user RAM/text bands do).
type DeviceWindow struct {
	Base     uint32
	Size     uint64
	ReadOnly bool
	SRD      uint8
}

// Manager reprograms the per-task MPU regions on every switch. It is the
// sole writer of MPU state (§5: "MPU registers: owned exclusively by the
// scheduler" — the scheduler calls through this manager).
type Manager struct {
	p      platform.Driver
	layout Layout
	log    *klog.Logger
}

// NewManager binds a Manager to the platform driver and the board's fixed
// layout.
func NewManager(p platform.Driver, layout Layout, log *klog.Logger) *Manager {
	return &Manager{p: p, layout: layout, log: log}
}

func (m *Manager) configure(cfg platform.MPURegionConfig) {
	if err := m.p.MPURegionConfig(cfg); err != nil {
		// §4.1 failure mode: log and continue. The region is left as it
		// was (likely disabled or stale); the affected task faults on
		// its first out-of-bounds access and the scheduler moves it to
		// FAULT, rather than this call panicking the kernel.
		m.log.Error("mpu: region %d rejected: %v", cfg.Number, err)
	}
}

func (m *Manager) disable(region int) {
	if err := m.p.MPURegionDisable(region); err != nil {
		m.log.Error("mpu: disable region %d failed: %v", region, err)
	}
}

// InitFixedRegions programs R0..R5 once at boot (§4.1 "Fixed regions"),
// leaves R6/R7 disabled until the first switch, and enables the MPU.
func (m *Manager) InitFixedRegions() {
	l := m.layout

	m.configure(platform.MPURegionConfig{
		Number: RegionSHR, Base: l.SHRBase, Size: uint64(l.SHRSize),
		Perm: platform.MPUPrivRO, XN: true,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionKernelText, Base: l.KernelTextBase, Size: uint64(l.KernelTextSize),
		Perm: platform.MPUPrivRO,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionPeripherals, Base: l.PeriphBase, Size: uint64(l.PeriphSize),
		Perm: platform.MPUPrivRW, XN: true, B: true, S: true,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionKernelRAM, Base: l.KernelRAMBase, Size: uint64(l.KernelRAMSize),
		Perm: platform.MPUPrivRW, XN: true, S: true,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionUserRAM, Base: l.UserRAMBase, Size: uint64(l.UserRAMSize),
		Perm: platform.MPUFullRW, XN: true, S: true,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionUserText, Base: l.UserTextBase, Size: uint64(l.UserTextSize),
		Perm: platform.MPUFullRO,
	})

	m.disable(RegionFree0)
	m.disable(RegionFree1)

	m.p.MPUEnable(true)
}

// slotMask computes the SRD field enabling exactly the subregions
// [slot-1, slot-1+numSlots) of an 8-subregion band, ANDing per-slot masks
// together as §4.1 describes for a task occupying several contiguous
// slots ("the disable masks are ANDed").
func slotMask(slot, numSlots int) uint8 {
	masks := make([]uint8, 0, numSlots)
	for i := 0; i < numSlots; i++ {
		masks = append(masks, bits.SubregionMask(slot-1+i, 1))
	}
	return bits.And(masks...)
}

// SwitchMainThread reprograms R4/R5 for the task occupying [slot,
// slot+numSlots) and fills R6/R7 with up to MaxMappedDevices currently
// mapped device windows, disabling whichever of R6/R7 is left over so a
// previous task's device window cannot leak through (§4.1 step 2).
func (m *Manager) SwitchMainThread(slot, numSlots int, devices []DeviceWindow) {
	srd := slotMask(slot, numSlots)
	l := m.layout

	m.configure(platform.MPURegionConfig{
		Number: RegionUserRAM, Base: l.UserRAMBase, Size: uint64(l.UserRAMSize),
		Perm: platform.MPUFullRW, XN: true, S: true, SRD: srd,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionUserText, Base: l.UserTextBase, Size: uint64(l.UserTextSize),
		Perm: platform.MPUFullRO, SRD: srd,
	})

	freeRegions := [MaxMappedDevices]int{RegionFree1, RegionFree0}

	n := len(devices)
	if n > MaxMappedDevices {
		n = MaxMappedDevices
	}

	for i := 0; i < n; i++ {
		dw := devices[i]
		perm := platform.MPUFullRW
		if dw.ReadOnly {
			perm = platform.MPUPrivRWUnprivRO
		}
		m.configure(platform.MPURegionConfig{
			Number: freeRegions[i], Base: dw.Base, Size: dw.Size,
			Perm: perm, XN: true, B: true, S: true, SRD: dw.SRD,
		})
	}
	for i := n; i < MaxMappedDevices; i++ {
		m.disable(freeRegions[i])
	}
}

// SwitchISRThread reprograms R4/R5 identically to the owning task's main
// thread (the ISR thread still executes inside the same task's slots),
// programs the ISR stack window into R7, and — when dev is non-nil —
// maps the single device bound to the firing IRQ into R6; otherwise R6
// is disabled (§4.1 step 3).
func (m *Manager) SwitchISRThread(slot, numSlots int, dev *DeviceWindow) {
	srd := slotMask(slot, numSlots)
	l := m.layout

	m.configure(platform.MPURegionConfig{
		Number: RegionUserRAM, Base: l.UserRAMBase, Size: uint64(l.UserRAMSize),
		Perm: platform.MPUFullRW, XN: true, S: true, SRD: srd,
	})
	m.configure(platform.MPURegionConfig{
		Number: RegionUserText, Base: l.UserTextBase, Size: uint64(l.UserTextSize),
		Perm: platform.MPUFullRO, SRD: srd,
	})

	m.configure(platform.MPURegionConfig{
		Number: RegionFree1, Base: l.ISRStackTop - uint32(l.ISRStackSize), Size: uint64(l.ISRStackSize),
		Perm: platform.MPUFullRW, XN: true, S: true,
	})

	if dev != nil {
		perm := platform.MPUFullRW
		if dev.ReadOnly {
			perm = platform.MPUPrivRWUnprivRO
		}
		m.configure(platform.MPURegionConfig{
			Number: RegionFree0, Base: dev.Base, Size: dev.Size,
			Perm: perm, XN: true, B: true, S: true, SRD: dev.SRD,
		})
	} else {
		m.disable(RegionFree0)
	}
}
