// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package device

import (
	"github.com/ewok-project/ewok-kernel/kernel/klog"
	"github.com/ewok-project/ewok-kernel/kernel/perm"
	"github.com/ewok-project/ewok-kernel/kernel/result"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// MaxDevices bounds the kernel-resident device table across every task;
// generous relative to 7 user tasks x 2 mapped-device regions plus a few
// unmapped-at-a-time AUTO devices.
const MaxDevices = 32

// MaxIRQCells sizes the direct-indexed-by-vector-number IRQ cell table;
// device.MaxUserIRQ is the highest absolute exception number a user
// device may claim.
const MaxIRQCells = MaxUserIRQ + 1

const (
	maxGPIOPorts = 9
	maxGPIOPins  = 16
)

// HandlerFunc is a kernel-owned IRQ's inline handler, invoked in handler
// mode with interrupts already at the core's single priority tier (§4.5).
type HandlerFunc func()

// IRQCell is one entry of the platform IRQ table (§3 "IRQ Cell"): a tagged
// variant of kernel-owned inline dispatch vs. user-owned deferred
// dispatch, replacing the original's function-pointer union (§9).
type IRQCell struct {
	IRQ     int
	Kind    HandlerKind
	Task    task.ID
	DevSlot int // index into Registrar.devices; -1 for kernel-owned cells
	Handler uint32
	Program Program
	Force   bool
	Kernel  HandlerFunc
	Count   uint64
}

func (c *IRQCell) registered() bool {
	return c.Task != task.Unused
}

type gpioOwner struct {
	devSlot int // -1 when free
}

type extiLine struct {
	devSlot  int // -1 when unclaimed
	task     task.ID
	pin      int
	port     int
	locked   bool
	callback uint32
}

// Registrar implements §4.3: it validates and installs user device
// descriptors, owns the IRQ/GPIO/EXTI tables, and is the Interrupt
// Pipeline's lookup for both kernel- and user-owned vectors.
type Registrar struct {
	p      platform.Driver
	tasks  *task.Table
	log    *klog.Logger
	socMap []SocMapEntry

	devices [MaxDevices]Device
	irqs    [MaxIRQCells]IRQCell

	gpio [maxGPIOPorts][maxGPIOPins]gpioOwner
	exti [maxGPIOPins]extiLine
}

// NewRegistrar returns an empty Registrar bound to the platform driver and
// task table. The board wires its SoC device map with SetSocMap before
// boot accepts any registration.
func NewRegistrar(p platform.Driver, tasks *task.Table, log *klog.Logger) *Registrar {
	r := &Registrar{p: p, tasks: tasks, log: log}

	for i := range r.devices {
		r.devices[i].Slot = i
		r.devices[i].Owner = task.Unused
	}
	for i := range r.irqs {
		r.irqs[i].DevSlot = -1
		r.irqs[i].Task = task.Unused
	}
	for p := range r.gpio {
		for pin := range r.gpio[p] {
			r.gpio[p][pin].devSlot = -1
		}
	}
	for i := range r.exti {
		r.exti[i].devSlot = -1
		r.exti[i].task = task.Unused
	}

	return r
}

// SetSocMap installs the board's compile-time SoC device map (§4.3 step
//1). Called once at boot before any task registers a device.
func (r *Registrar) SetSocMap(m []SocMapEntry) {
	r.socMap = m
}

// UserDevice is the sanitized-at-the-syscall-boundary descriptor a task
// hands to RegisterDevice; it mirrors device_t's user-facing fields
// before kernel-side validation and slot allocation (§3, §4.3).
type UserDevice struct {
	Name      string
	Address   uint32
	Size      uint32
	MapMode   MapMode
	IRQs      []IRQDescriptor
	GPIOs     []GPIODescriptor
}

// RegisterDevice implements §4.3: find the declared device in the SoC
// map, check the caller's permission bit, sanitize every field, allocate
// a slot, install IRQ cells and GPIO/EXTI ownership, and leave the device
// REGISTERED (enabling is deferred to init(DONE), see EnableRegistered).
func (r *Registrar) RegisterDevice(caller task.ID, udev UserDevice) (slot int, res result.Code) {
	t, err := r.tasks.Get(caller)
	if err != nil {
		return -1, result.Invalid
	}
	if t.InitDone {
		return -1, result.Denied
	}
	if len(udev.IRQs) > MaxIRQsPerDevice || len(udev.GPIOs) > MaxGPIOsPerDevice {
		return -1, result.Invalid
	}

	entry := findSocEntry(r.socMap, udev.Address, udev.Size)
	if entry == nil {
		return -1, result.Invalid
	}
	if !t.Permissions.Has(entry.Class) {
		return -1, result.Denied
	}
	if udev.MapMode == Voluntary && !t.Permissions.Has(perm.DynamicMap) {
		return -1, result.Denied
	}
	if t.NumDevsMapped+boolToInt(udev.MapMode == Auto) > task.MaxDevicesPerTask {
		return -1, result.Busy
	}

	for i := range udev.IRQs {
		d := &udev.IRQs[i]
		if d.IRQ < MinUserIRQ || d.IRQ > MaxUserIRQ {
			return -1, result.Invalid
		}
		if !t.OwnsText(d.Handler, 4) {
			return -1, result.Invalid
		}
		if d.Mode == ModeForceMainthread && !t.Permissions.Has(perm.ForceISR) {
			return -1, result.Denied
		}
		if !ValidateOffsets(&d.Program, udev.Size) {
			return -1, result.Invalid
		}
		if r.irqs[d.IRQ].registered() {
			return -1, result.Busy
		}
	}

	for i := range udev.GPIOs {
		g := &udev.GPIOs[i]
		if g.Port < 0 || g.Port >= maxGPIOPorts || g.Pin < 0 || g.Pin >= maxGPIOPins {
			return -1, result.Invalid
		}
		if g.UseEXTI {
			if !t.Permissions.Has(perm.EXTI) {
				return -1, result.Denied
			}
			if g.Callback != 0 && !t.OwnsText(g.Callback, 4) {
				return -1, result.Invalid
			}
			if r.exti[g.Pin].devSlot != -1 {
				return -1, result.Busy
			}
		}
		if r.gpio[g.Port][g.Pin].devSlot != -1 {
			return -1, result.Busy
		}
	}

	slot = r.freeSlot()
	if slot < 0 {
		return -1, result.Busy
	}

	dev := &r.devices[slot]
	*dev = Device{
		Slot:    slot,
		State:   StateRegistered,
		Owner:   caller,
		Name:    truncName(udev.Name),
		Address: udev.Address,
		Size:    udev.Size,
		MapMode: udev.MapMode,
	}

	dev.NumIRQs = copy(dev.IRQs[:], udev.IRQs)
	dev.NumGPIOs = copy(dev.GPIOs[:], udev.GPIOs)

	for i := 0; i < dev.NumIRQs; i++ {
		d := &dev.IRQs[i]
		r.irqs[d.IRQ] = IRQCell{
			IRQ: d.IRQ, Kind: HandlerUser, Task: caller, DevSlot: slot,
			Handler: d.Handler, Program: d.Program, Force: d.Mode == ModeForceMainthread,
		}
	}

	for i := 0; i < dev.NumGPIOs; i++ {
		g := &dev.GPIOs[i]
		r.gpio[g.Port][g.Pin] = gpioOwner{devSlot: slot}
		if g.UseEXTI {
			r.exti[g.Pin] = extiLine{
				devSlot: slot, task: caller, pin: g.Pin, port: g.Port,
				locked: g.Locked, callback: g.Callback,
			}
			r.p.EXTIConfig(g.Port, g.Pin, platform.EXTITrigger(g.Trigger))
			if g.Locked {
				r.p.EXTIDisable(g.Pin)
			}
		}
		r.p.GPIOConfigure(platform.GPIOConfig{
			Port: g.Port, Pin: g.Pin,
			Mode: platform.GPIOMode(g.Mode), Type: platform.GPIOType(g.Type),
			Speed: platform.GPIOSpeed(g.Speed), PuPd: platform.GPIOPuPd(g.PuPd), AF: g.AF,
		})
	}

	t.NumDevs++
	for i := range t.DevIDs {
		if t.DevIDs[i] == -1 {
			t.DevIDs[i] = slot
			break
		}
	}

	dev.Clock = entry.Clock
	dev.ReadOnly = entry.ReadOnly

	return slot, result.Done
}

// EnableRegistered promotes every REGISTERED device the caller owns to
// ENABLED (§4.3 step 5, driven by init(DONE)): activates the RCC clock
// gate, enables each installed IRQ cell's NVIC line (and unmasks its
// EXTI line unless declared locked), and flags AUTO devices is_mapped.
func (r *Registrar) EnableRegistered(caller task.ID) {
	t, err := r.tasks.Get(caller)
	if err != nil {
		return
	}

	for i := 0; i < t.NumDevs; i++ {
		slot := t.DevIDs[i]
		if slot < 0 {
			continue
		}
		dev := &r.devices[slot]
		if dev.State != StateRegistered {
			continue
		}

		r.p.ClockEnable(dev.Clock)

		for j := 0; j < dev.NumIRQs; j++ {
			r.p.NVICEnable(dev.IRQs[j].IRQ - nvicOffset)
		}
		for j := 0; j < dev.NumGPIOs; j++ {
			g := &dev.GPIOs[j]
			if g.UseEXTI && !g.Locked {
				r.p.EXTIEnable(g.Pin)
			}
		}

		if dev.MapMode == Auto {
			dev.IsMapped = true
			t.NumDevsMapped++
		}
		dev.State = StateEnabled
	}
}

// nvicOffset converts an absolute exception number (as stored on an IRQ
// cell) to the NVIC-relative number platform.Driver expects.
const nvicOffset = 16

// ReleaseDevice implements CFG_DEV_RELEASE (§4.7): tears down IRQ cells,
// GPIO/EXTI ownership and the device slot, restoring the round-trip
// identity Register o Release promises (§8).
func (r *Registrar) ReleaseDevice(caller task.ID, slot int) result.Code {
	if slot < 0 || slot >= MaxDevices {
		return result.Invalid
	}
	dev := &r.devices[slot]
	if dev.Owner != caller || dev.State == StateUnused {
		return result.Invalid
	}

	r.p.ClockDisable(dev.Clock)

	for i := 0; i < dev.NumIRQs; i++ {
		n := dev.IRQs[i].IRQ
		r.p.NVICDisable(n - nvicOffset)
		r.irqs[n] = IRQCell{DevSlot: -1, Task: task.Unused}
	}
	for i := 0; i < dev.NumGPIOs; i++ {
		g := &dev.GPIOs[i]
		r.gpio[g.Port][g.Pin] = gpioOwner{devSlot: -1}
		if g.UseEXTI {
			r.p.EXTIDisable(g.Pin)
			r.exti[g.Pin] = extiLine{devSlot: -1, task: task.Unused}
		}
	}

	t, err := r.tasks.Get(caller)
	if err == nil {
		if dev.IsMapped {
			t.NumDevsMapped--
		}
		t.NumDevs--
		for i := range t.DevIDs {
			if t.DevIDs[i] == slot {
				t.DevIDs[i] = -1
				break
			}
		}
	}

	*dev = Device{Slot: slot, Owner: task.Unused}
	return result.Done
}

// MapDevice implements CFG_DEV_MAP: only legal for a VOLUNTARY device,
// and only marks the mapping — the new MPU layout takes effect at the
// next scheduler switch (§4.7).
func (r *Registrar) MapDevice(caller task.ID, slot int) result.Code {
	dev, ok := r.ownedDevice(caller, slot)
	if !ok {
		return result.Invalid
	}
	if dev.MapMode != Voluntary {
		return result.Denied
	}
	if dev.IsMapped {
		// already mapped (syscalls-cfg-dev.c's sys_cfg_dev_map: ret_busy)
		return result.Busy
	}

	t := r.tasks.MustGet(caller)
	if t.NumDevsMapped >= task.MaxDevicesPerTask {
		return result.Busy
	}

	r.p.ClockEnable(dev.Clock)

	dev.IsMapped = true
	t.NumDevsMapped++
	return result.Done
}

// UnmapDevice is CFG_DEV_MAP's dual.
func (r *Registrar) UnmapDevice(caller task.ID, slot int) result.Code {
	dev, ok := r.ownedDevice(caller, slot)
	if !ok {
		return result.Invalid
	}
	if !dev.IsMapped {
		// not already mapped (syscalls-cfg-dev.c's sys_cfg_dev_unmap: ret_inval)
		return result.Invalid
	}
	if dev.MapMode != Voluntary {
		return result.Denied
	}

	dev.IsMapped = false
	r.tasks.MustGet(caller).NumDevsMapped--
	return result.Done
}

func (r *Registrar) ownedDevice(caller task.ID, slot int) (*Device, bool) {
	if slot < 0 || slot >= MaxDevices {
		return nil, false
	}
	dev := &r.devices[slot]
	if dev.Owner != caller || dev.State == StateUnused {
		return nil, false
	}
	return dev, true
}

// Device returns the registered device at slot, or nil.
func (r *Registrar) Device(slot int) *Device {
	if slot < 0 || slot >= MaxDevices {
		return nil
	}
	if r.devices[slot].State == StateUnused {
		return nil
	}
	return &r.devices[slot]
}

// LookupIRQ returns the IRQ cell bound to an absolute exception number,
// or ok=false if the vector is unregistered.
func (r *Registrar) LookupIRQ(irq int) (*IRQCell, bool) {
	if irq < 0 || irq >= MaxIRQCells {
		return nil, false
	}
	c := &r.irqs[irq]
	if !c.registered() {
		return nil, false
	}
	return c, true
}

// MappedDeviceWindows returns, in registration order, the MPU-window
// description of every device currently mapped for the task's main
// thread (§4.1 step 2's input).
func (r *Registrar) MappedDeviceWindows(t *task.Task) []DeviceWindow {
	var out []DeviceWindow
	for i := 0; i < t.NumDevs; i++ {
		slot := t.DevIDs[i]
		if slot < 0 {
			continue
		}
		dev := &r.devices[slot]
		if dev.IsMapped {
			out = append(out, DeviceWindow{Base: dev.Address, Size: dev.Size, ReadOnly: dev.ReadOnly})
		}
	}
	return out
}

// DeviceWindow is the MPU-relevant projection of a Device, handed to
// kernel/mpu without that package needing to know about task ownership.
type DeviceWindow struct {
	Base     uint32
	Size     uint32
	ReadOnly bool
}

// EXTIOwner resolves a pending EXTI line back to its registered owner,
// per §9 Open Question 3: the EXTI dispatcher looks the owner up via the
// GPIO/EXTI table rather than synthesizing a transient IRQ cell.
func (r *Registrar) EXTIOwner(pin int) (owner task.ID, devSlot int, callback uint32, locked bool, ok bool) {
	if pin < 0 || pin >= maxGPIOPins {
		return task.Unused, -1, 0, false, false
	}
	l := r.exti[pin]
	if l.devSlot == -1 {
		return task.Unused, -1, 0, false, false
	}
	return l.task, l.devSlot, l.callback, l.locked, true
}

// UnlockEXTI implements CFG_GPIO_UNLOCK_EXTI: unmasks a line that was
// registered LOCKED, e.g. after the owner has drained the condition the
// line signals.
func (r *Registrar) UnlockEXTI(caller task.ID, pin int) result.Code {
	if pin < 0 || pin >= maxGPIOPins {
		return result.Invalid
	}
	l := &r.exti[pin]
	if l.devSlot == -1 || l.task != caller {
		return result.Invalid
	}
	if !l.locked {
		return result.Done
	}
	l.locked = false
	r.p.EXTIEnable(pin)
	return result.Done
}

// GPIOSet implements CFG_GPIO_SET: set the output level of a GPIO
// previously registered (and enabled) as part of one of the caller's own
// devices, addressed by its index within that device's GPIO array.
func (r *Registrar) GPIOSet(caller task.ID, slot, gpioIndex int, high bool) result.Code {
	dev, ok := r.ownedDevice(caller, slot)
	if !ok {
		return result.Invalid
	}
	if gpioIndex < 0 || gpioIndex >= dev.NumGPIOs {
		return result.Invalid
	}
	if dev.State != StateEnabled {
		return result.Denied
	}

	g := &dev.GPIOs[gpioIndex]
	r.p.GPIOSet(g.Port, g.Pin, high)
	return result.Done
}

// GPIOGet implements CFG_GPIO_GET, the read dual of GPIOSet.
func (r *Registrar) GPIOGet(caller task.ID, slot, gpioIndex int) (bool, result.Code) {
	dev, ok := r.ownedDevice(caller, slot)
	if !ok {
		return false, result.Invalid
	}
	if gpioIndex < 0 || gpioIndex >= dev.NumGPIOs {
		return false, result.Invalid
	}
	if dev.State != StateEnabled {
		return false, result.Denied
	}

	g := &dev.GPIOs[gpioIndex]
	return r.p.GPIOGet(g.Port, g.Pin), result.Done
}

func (r *Registrar) freeSlot() int {
	for i := range r.devices {
		if r.devices[i].State == StateUnused {
			return i
		}
	}
	return -1
}

func truncName(s string) string {
	if len(s) > 15 {
		return s[:15]
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
