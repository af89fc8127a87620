package uds

import (
	"testing"

	"github.com/candiag/candiag/pkg/can"
	"github.com/candiag/candiag/pkg/isotp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassiveReassemblerSingleFrame(t *testing.T) {
	cfg := isotp.Config{TxID: 0x7E0, RxID: 0x7E8}
	sender := &recordingPassiveSender{}
	var got []byte
	r := NewPassiveReassembler(sender, cfg, Callbacks{
		Ind: func(payload []byte) { got = payload },
	})

	r.Handle(can.Frame{ID: 0x7E8, DLC: 8, Data: [8]byte{0x03, 0x22, 0xF1, 0x90}})
	assert.Equal(t, []byte{0x22, 0xF1, 0x90}, got)
}

func TestPassiveReassemblerMultiFrameSendsFlowControl(t *testing.T) {
	cfg := isotp.Config{TxID: 0x7E0, RxID: 0x7E8}
	sender := &recordingPassiveSender{}
	var got []byte
	started := false
	r := NewPassiveReassembler(sender, cfg, Callbacks{
		SomInd: func() { started = true },
		Ind:    func(payload []byte) { got = payload },
	})

	full := make([]byte, 10)
	for i := range full {
		full[i] = byte(i)
	}
	r.Handle(can.Frame{ID: 0x7E8, DLC: 8, Data: [8]byte{0x10, 0x0A, full[0], full[1], full[2], full[3], full[4], full[5]}})
	require.True(t, started)
	require.Len(t, sender.frames, 1)
	assert.Equal(t, byte(0x30), sender.frames[0].Data[0])

	r.Handle(can.Frame{ID: 0x7E8, DLC: 8, Data: [8]byte{0x21, full[6], full[7], full[8], full[9]}})
	assert.Equal(t, full, got)
}

type recordingPassiveSender struct {
	frames []can.Frame
}

func (r *recordingPassiveSender) Send(frame can.Frame) error {
	r.frames = append(r.frames, frame)
	return nil
}
