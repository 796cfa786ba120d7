// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMMIO struct {
	regs  map[uint32]uint32
	reads []uint32
}

func newFakeMMIO() *fakeMMIO {
	return &fakeMMIO{regs: map[uint32]uint32{}}
}

func (m *fakeMMIO) Read(offset uint32) uint32 {
	m.reads = append(m.reads, offset)
	return m.regs[offset]
}

func (m *fakeMMIO) Write(offset, value, mask uint32) {
	m.regs[offset] = (m.regs[offset] &^ mask) | (value & mask)
}

func TestExecReadSurfacesStatusAndData(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[0x00] = 0xdeadbeef
	mmio.regs[0x04] = 0x1

	p := &Program{
		Status: 0x00,
		Data:   0x04,
		Actions: [MaxPosthookInstrs]Action{
			{Instr: PHRead, Offset: 0x00},
			{Instr: PHRead, Offset: 0x04},
		},
		NumValid: 2,
	}

	out := Exec(p, mmio)
	require.Equal(t, uint32(0xdeadbeef), out.Status)
	require.Equal(t, uint32(0x1), out.Data)
}

func TestExecWrite(t *testing.T) {
	mmio := newFakeMMIO()

	p := &Program{
		Status: NoOffset,
		Data:   NoOffset,
		Actions: [MaxPosthookInstrs]Action{
			{Instr: PHWrite, Offset: 0x04, Value: 0x1, Mask: 0x1},
		},
		NumValid: 1,
	}

	Exec(p, mmio)
	require.Equal(t, uint32(0x1), mmio.regs[0x04])
}

func TestExecAndReusesPriorRead(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[0x00] = 0xf0

	p := &Program{
		Status: NoOffset,
		Data:   NoOffset,
		Actions: [MaxPosthookInstrs]Action{
			{Instr: PHRead, Offset: 0x00},
			{Instr: PHAnd, OffsetSrc: 0x00, OffsetDest: 0x08, Mask: 0xff},
		},
		NumValid: 2,
	}

	Exec(p, mmio)
	require.Equal(t, uint32(0xf0), mmio.regs[0x08])
	// only one hardware read happened — AND reused the earlier READ's value.
	require.Len(t, mmio.reads, 1)
}

func TestExecAndFallsBackToFreshReadWhenNoPriorRead(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[0x00] = 0x0f

	p := &Program{
		Status: NoOffset,
		Data:   NoOffset,
		Actions: [MaxPosthookInstrs]Action{
			{Instr: PHAnd, OffsetSrc: 0x00, OffsetDest: 0x08, Mask: 0xff},
		},
		NumValid: 1,
	}

	Exec(p, mmio)
	require.Equal(t, uint32(0x0f), mmio.regs[0x08])
	require.Len(t, mmio.reads, 1)
}

func TestExecAndModeNotInvertsValue(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[0x00] = 0x000000ff

	p := &Program{
		Status: NoOffset,
		Data:   NoOffset,
		Actions: [MaxPosthookInstrs]Action{
			{Instr: PHRead, Offset: 0x00},
			{Instr: PHAnd, OffsetSrc: 0x00, OffsetDest: 0x08, Mask: 0xffffffff, Mode: ModeAndNot},
		},
		NumValid: 2,
	}

	Exec(p, mmio)
	require.Equal(t, ^uint32(0x000000ff), mmio.regs[0x08])
}

func TestExecMaskReadsBothSourceAndMaskRegisters(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[0x00] = 0xaa
	mmio.regs[0x04] = 0x0f

	p := &Program{
		Status: NoOffset,
		Data:   NoOffset,
		Actions: [MaxPosthookInstrs]Action{
			{Instr: PHMask, OffsetSrc: 0x00, OffsetMask: 0x04, OffsetDest: 0x08},
		},
		NumValid: 1,
	}

	Exec(p, mmio)
	require.Equal(t, uint32(0x0a), mmio.regs[0x08])
}

func TestValidateOffsetsRejectsOutOfRangeAndMisaligned(t *testing.T) {
	ok := &Program{NumValid: 1, Actions: [MaxPosthookInstrs]Action{{Instr: PHWrite, Offset: 0x3fc}}}
	require.True(t, ValidateOffsets(ok, 0x400))

	tooFar := &Program{NumValid: 1, Actions: [MaxPosthookInstrs]Action{{Instr: PHWrite, Offset: 0x402}}}
	require.False(t, ValidateOffsets(tooFar, 0x400))

	misaligned := &Program{NumValid: 1, Actions: [MaxPosthookInstrs]Action{{Instr: PHRead, Offset: 0x3}}}
	require.False(t, ValidateOffsets(misaligned, 0x400))
}
