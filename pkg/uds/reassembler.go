package uds

import (
	"github.com/candiag/candiag/pkg/can"
	"github.com/candiag/candiag/pkg/isotp"
)

// PassiveReassembler watches ISO-TP traffic for one response CAN ID and
// hands complete UDS payloads to Callbacks.Ind, without itself ever
// transmitting a request. It still has to answer flow control, since a
// stalled multi-frame response would otherwise never complete — that send
// goes through the same Sender the live client would use.
type PassiveReassembler struct {
	cfg         isotp.Config
	sender      isotp.Sender
	reassembler *isotp.Reassembler
	callbacks   Callbacks
}

func NewPassiveReassembler(sender isotp.Sender, cfg isotp.Config, callbacks Callbacks) *PassiveReassembler {
	return &PassiveReassembler{
		cfg:         cfg,
		sender:      sender,
		reassembler: isotp.NewReassembler(cfg.RxBlockSize, cfg.MaxRxSize),
		callbacks:   callbacks,
	}
}

// Handle implements can.FrameListener. It is driven from the monitor loop
// rather than from a blocking call.
func (p *PassiveReassembler) Handle(frame can.Frame) {
	_, rx := p.cfg.ResolveIDs()
	id := frame.ID &^ can.EFFFlag
	if id != rx {
		return
	}
	offset := p.cfg.PayloadOffset()
	if offset == 1 && frame.Data[0] != p.cfg.AddressExtension {
		return
	}
	payload := frame.Data[offset:frame.DLC]
	if len(payload) == 0 {
		return
	}
	if payload[0]>>4 == isotp.PCIFlowControl {
		return
	}

	outcome, err := p.reassembler.Feed(payload)
	if outcome.NeedFlowControl {
		_ = p.sendFlowControl(outcome.FlowStatus)
	}
	if err != nil {
		p.callbacks.con(false, err)
		return
	}
	if outcome.Started {
		p.callbacks.somInd()
	}
	if outcome.Complete {
		p.callbacks.ind(outcome.Payload)
	}
}

func (p *PassiveReassembler) sendFlowControl(status byte) error {
	tx, _ := p.cfg.ResolveIDs()
	data := []byte{isotp.PCIFlowControl<<4 | status, p.cfg.RxBlockSize, p.cfg.RxSTmin}
	return p.sender.Send(p.cfg.BuildFrame(tx, 8, data))
}
