// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import (
	"github.com/ewok-project/ewok-kernel/arm"
	"github.com/ewok-project/ewok-kernel/kernel/task"
	"github.com/ewok-project/ewok-kernel/platform"
)

// nvicDMA maps (controller, stream) to its NVIC-relative vector number
// (RM0090 Table 62, STM32F405/407/415/417 vector table): the IRQ
// pipeline needs to go the other way — from a firing absolute exception
// number back to the stream it belongs to — without the arbiter having
// to import kernel/irq.
var nvicDMA = [3][8]int{
	1: {11, 12, 13, 14, 15, 16, 17, 47},
	2: {56, 57, 58, 59, 60, 68, 69, 70},
}

func absoluteIRQ(ctrl, stream int) int {
	return arm.IRQ0 + nvicDMA[ctrl][stream]
}

// LookupIRQ resolves a firing absolute exception number back to the
// stream's owning task and kernel id, for the pipeline's postponeISR
// step (isr.c: "Timer and DMA are managed by the kernel").
func (a *Arbiter) LookupIRQ(irqNum int) (owner task.ID, id int, ok bool) {
	for i := range a.streams {
		d := &a.streams[i]
		if !d.Registered {
			continue
		}
		if absoluteIRQ(d.Ctrl, d.Stream) == irqNum {
			return d.Owner, d.ID, true
		}
	}
	return task.Unused, -1, false
}

// StreamOf returns the (ctrl, stream) pair for a registered stream id.
func (a *Arbiter) StreamOf(id int) (ctrl, stream int) {
	if id < 0 || id >= MaxStreams {
		return 0, 0
	}
	return a.streams[id].Ctrl, a.streams[id].Stream
}

// StatusRaw and CleanIntRaw bypass the caller-ownership check Status/
// CleanInt enforce: the pipeline runs in handler mode, ahead of any
// task context, and already knows the (ctrl, stream) pair from LookupIRQ.
func (a *Arbiter) StatusRaw(ctrl, stream int) platform.DMAStatus {
	return a.p.DMAGetStatus(ctrl, stream)
}

func (a *Arbiter) CleanIntRaw(ctrl, stream int) {
	a.p.DMACleanInt(ctrl, stream)
}
