// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package stm32f4

import (
	"fmt"

	"github.com/ewok-project/ewok-kernel/internal/reg"
	"github.com/ewok-project/ewok-kernel/platform"
)

// DMA register block (RM0090 §10.5). Each controller has 8 streams of
// 0x18 bytes starting at offset 0x10; low/high interrupt status and flag
// clear registers cover streams 0-3 and 4-7 respectively.
const (
	dma1Base = AHB1PeriphBase + 0x6000
	dma2Base = AHB1PeriphBase + 0x6400

	dmaLISR  = 0x00
	dmaHISR  = 0x04
	dmaLIFCR = 0x08
	dmaHIFCR = 0x0c

	dmaStreamStride = 0x18
	dmaSxCR         = 0x10
	dmaSxNDTR       = 0x14
	dmaSxPAR        = 0x18
	dmaSxM0AR       = 0x1c

	dmaSxCR_EN     = 1 << 0
	dmaSxCR_TEIE   = 1 << 2
	dmaSxCR_HTIE   = 1 << 3
	dmaSxCR_TCIE   = 1 << 4
	dmaSxCR_PFCTRL = 1 << 5
	dmaSxCR_PINC   = 1 << 9
	dmaSxCR_MINC   = 1 << 10
)

func dmaCtrlBase(ctrl int) (uint32, error) {
	switch ctrl {
	case 1:
		return dma1Base, nil
	case 2:
		return dma2Base, nil
	default:
		return 0, fmt.Errorf("stm32f4: invalid dma controller %d", ctrl)
	}
}

// dmaStreamStatusReg returns the LISR/HISR and LIFCR/HIFCR offsets for a
// stream and the bit position of its FEIF flag, the lowest bit of its
// six-bit group; DMEIF, TEIF, HTIF and TCIF sit at +2, +3, +4 and +5,
// mirroring DMA_LISR_stream_base/DMA_HISR_stream_base.
func dmaStreamStatusReg(stream int) (isr, ifcr uint32, base int) {
	switch {
	case stream < 4:
		return dmaLISR, dmaLIFCR, []int{0, 6, 16, 22}[stream]
	default:
		return dmaHISR, dmaHIFCR, []int{0, 6, 16, 22}[stream-4]
	}
}

func (d *Driver) streamCR(ctrl, stream int) (uint32, error) {
	base, err := dmaCtrlBase(ctrl)
	if err != nil {
		return 0, err
	}
	if stream < 0 || stream > 7 {
		return 0, fmt.Errorf("stm32f4: invalid dma stream %d", stream)
	}
	return base + dmaSxCR + uint32(stream)*dmaStreamStride, nil
}

// DMAInit programs a stream's channel, direction, addresses, size,
// increment and flow-control fields, leaving it disabled. The arbiter
// calls DMAEnable separately once both ISR/SYSCALL-queue handlers are
// wired, matching the original kernel's two-phase dma_t declaration
// followed by an explicit reload/enable.
func (d *Driver) DMAInit(ctrl, stream int, params platform.DMAParams) error {
	base, err := dmaCtrlBase(ctrl)
	if err != nil {
		return err
	}
	if stream < 0 || stream > 7 {
		return fmt.Errorf("stm32f4: invalid dma stream %d", stream)
	}

	streamBase := base + uint32(stream)*dmaStreamStride

	reg.Write(streamBase+dmaSxCR, 0) // disable before reconfiguring

	reg.Write(streamBase+dmaSxPAR, params.InAddr)
	reg.Write(streamBase+dmaSxM0AR, params.OutAddr)
	reg.SetN(streamBase+dmaSxNDTR, 0, 0xffff, uint32(params.Size))

	cr := uint32(params.Channel&0x7) << 25
	cr |= uint32(params.Direction) << 6
	if params.Mode == platform.DMACircularMode {
		cr |= 1 << 8 // CIRC
	}
	cr |= uint32(params.DataSize) << 11
	cr |= uint32(params.DataSize) << 13
	cr |= uint32(params.InPrio) << 16

	if params.DevInc {
		cr |= dmaSxCR_PINC
	}
	if params.MemInc {
		cr |= dmaSxCR_MINC
	}
	if params.FlowCtrl == platform.DMAFlowControlDevice {
		cr |= dmaSxCR_PFCTRL
	}

	cr |= dmaSxCR_TCIE | dmaSxCR_TEIE

	reg.Write(streamBase+dmaSxCR, cr)

	return nil
}

// DMAReconf rewrites only the fields named by mask, per the original
// kernel's dma_reconf_mask_t: an ISR-thread reload may not silently widen
// its own access beyond what was granted at declaration time.
func (d *Driver) DMAReconf(ctrl, stream int, params platform.DMAParams, mask platform.DMAReconfMask) error {
	base, err := dmaCtrlBase(ctrl)
	if err != nil {
		return err
	}

	streamBase := base + uint32(stream)*dmaStreamStride

	wasEnabled := reg.Get(streamBase+dmaSxCR, 0, 1) == 1
	if wasEnabled {
		reg.Clear(streamBase+dmaSxCR, 0)
	}

	if mask&platform.DMAReconfBufIn != 0 {
		reg.Write(streamBase+dmaSxPAR, params.InAddr)
	}
	if mask&platform.DMAReconfBufOut != 0 {
		reg.Write(streamBase+dmaSxM0AR, params.OutAddr)
	}
	if mask&platform.DMAReconfBufSize != 0 {
		reg.SetN(streamBase+dmaSxNDTR, 0, 0xffff, uint32(params.Size))
	}
	if mask&platform.DMAReconfPrio != 0 {
		reg.SetN(streamBase+dmaSxCR, 16, 0x3, uint32(params.InPrio))
	}
	if mask&platform.DMAReconfDir != 0 {
		reg.SetN(streamBase+dmaSxCR, 6, 0x3, uint32(params.Direction))
	}

	if wasEnabled {
		reg.Set(streamBase+dmaSxCR, 0)
	}

	return nil
}

func (d *Driver) DMAEnable(ctrl, stream int) {
	if addr, err := d.streamCR(ctrl, stream); err == nil {
		reg.Set(addr, 0)
	}
}

func (d *Driver) DMADisable(ctrl, stream int) {
	if addr, err := d.streamCR(ctrl, stream); err == nil {
		reg.Clear(addr, 0)
	}
}

func (d *Driver) DMAResetStream(ctrl, stream int) {
	if addr, err := d.streamCR(ctrl, stream); err == nil {
		reg.Write(addr, 0)
	}
	d.DMACleanInt(ctrl, stream)
}

// DMAGetStatus decodes the transfer-complete/half/error flags for one
// stream out of the shared 32-bit LISR/HISR register.
func (d *Driver) DMAGetStatus(ctrl, stream int) platform.DMAStatus {
	base, err := dmaCtrlBase(ctrl)
	if err != nil {
		return platform.DMAStatus{}
	}

	isrReg, _, bit := dmaStreamStatusReg(stream)
	isr := reg.Read(base + isrReg)

	return platform.DMAStatus{
		Complete:      isr&(1<<(bit+5)) != 0,
		HalfComplete:  isr&(1<<(bit+4)) != 0,
		TransferErr:   isr&(1<<(bit+3)) != 0,
		DirectModeErr: isr&(1<<(bit+2)) != 0,
		FIFOErr:       isr&(1<<bit) != 0,
	}
}

// DMACleanInt clears every pending interrupt flag for a stream by writing
// the full 6-bit group to the flag-clear register.
func (d *Driver) DMACleanInt(ctrl, stream int) {
	base, err := dmaCtrlBase(ctrl)
	if err != nil {
		return
	}

	_, ifcrReg, bit := dmaStreamStatusReg(stream)
	reg.Write(base+ifcrReg, 0x3f<<uint(bit))
}
