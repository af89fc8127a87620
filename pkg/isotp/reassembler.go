package isotp

import (
	candiag "github.com/candiag/candiag"
	"github.com/candiag/candiag/internal/fifo"
)

// ReassemblyState is the explicit state of one in-flight ISO-TP reception.
type ReassemblyState int

const (
	ReassemblyIdle ReassemblyState = iota
	ReassemblyInProgress
)

// FeedOutcome reports what Reassembler.Feed produced for one frame.
type FeedOutcome struct {
	// Started is true the first time a frame belonging to this reception
	// was observed (single-frame or first-frame), signalling a som_ind.
	Started bool
	// NeedFlowControl is true when the caller should now transmit a flow
	// control frame (right after a First Frame, and every RxBlockSize
	// consecutive frames thereafter).
	NeedFlowControl bool
	// Complete is true once payload holds the full reassembled message.
	Complete bool
	Payload  []byte
	// FlowStatus is what the caller should advertise in the flow control
	// frame it sends when NeedFlowControl is set: FlowStatusContinueToSend
	// normally, FlowStatusOverflow when the First Frame declared a length
	// past MaxRxSize.
	FlowStatus byte
}

// Reassembler tracks one ISO-TP reception: First Frame length, Consecutive
// Frame sequencing, and the running payload buffer. It performs no I/O —
// the caller sends any requested flow control frame and owns timeouts.
type Reassembler struct {
	state         ReassemblyState
	expected      int
	buffer        *fifo.Fifo
	nextSeq       uint8
	rxBlockSize   byte
	maxRxSize     int
	sinceFlowCtrl byte
}

// NewReassembler constructs a Reassembler that advertises rxBlockSize in its
// flow control frames and, when maxRxSize is nonzero, rejects any First
// Frame declaring a total length beyond it. The accumulation buffer is sized
// to maxRxSize (or MaxFirstFrameLength, the largest length a First Frame can
// declare at all, when maxRxSize is left unconfigured).
func NewReassembler(rxBlockSize byte, maxRxSize int) *Reassembler {
	capacity := maxRxSize
	if capacity <= 0 {
		capacity = MaxFirstFrameLength
	}
	return &Reassembler{
		rxBlockSize: rxBlockSize,
		maxRxSize:   maxRxSize,
		buffer:      fifo.NewFifo(uint16(capacity) + 1),
	}
}

// Reset discards any in-progress reception.
func (r *Reassembler) Reset() {
	r.state = ReassemblyIdle
	r.expected = 0
	r.buffer.Reset()
	r.nextSeq = 0
	r.sinceFlowCtrl = 0
}

// Feed processes one frame's payload (already stripped of any
// address-extension byte). pciByte is payload[0].
func (r *Reassembler) Feed(payload []byte) (FeedOutcome, error) {
	if len(payload) == 0 {
		return FeedOutcome{}, candiag.NewIsoTpError(candiag.IsoTpErrorUnknown, "empty frame payload")
	}
	pciType := payload[0] >> 4

	switch pciType {
	case PCISingleFrame:
		length := int(payload[0] & 0x0F)
		if length == 0 || length > len(payload)-1 {
			return FeedOutcome{}, candiag.NewIsoTpError(candiag.IsoTpErrorUnknown, "malformed single frame")
		}
		r.Reset()
		data := make([]byte, length)
		copy(data, payload[1:1+length])
		return FeedOutcome{Started: true, Complete: true, Payload: data}, nil

	case PCIFirstFrame:
		if len(payload) < 2 {
			return FeedOutcome{}, candiag.NewIsoTpError(candiag.IsoTpErrorUnknown, "malformed first frame")
		}
		length := int(payload[0]&0x0F)<<8 | int(payload[1])
		if r.maxRxSize > 0 && length > r.maxRxSize {
			r.Reset()
			return FeedOutcome{NeedFlowControl: true, FlowStatus: FlowStatusOverflow},
				candiag.NewIsoTpError(candiag.IsoTpErrorOverflow, "first frame declares length beyond configured max_rx_size")
		}
		r.buffer.Reset()
		r.state = ReassemblyInProgress
		r.expected = length
		r.nextSeq = 1
		r.sinceFlowCtrl = 0
		chunk := payload[2:]
		if len(chunk) > length {
			chunk = chunk[:length]
		}
		r.buffer.Write(chunk)
		return FeedOutcome{Started: true, NeedFlowControl: true}, nil

	case PCIConsecutiveFrame:
		if r.state != ReassemblyInProgress {
			return FeedOutcome{}, candiag.NewIsoTpError(candiag.IsoTpErrorSequenceMismatch, "consecutive frame with no reception in progress")
		}
		seq := payload[0] & 0x0F
		if seq != r.nextSeq {
			r.Reset()
			return FeedOutcome{}, candiag.NewIsoTpError(candiag.IsoTpErrorSequenceMismatch, "unexpected sequence number")
		}
		remaining := r.expected - r.buffer.GetOccupied()
		chunk := payload[1:]
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		r.buffer.Write(chunk)
		r.nextSeq = (r.nextSeq + 1) & 0x0F

		if r.buffer.GetOccupied() >= r.expected {
			complete := make([]byte, r.expected)
			r.buffer.Read(complete)
			out := FeedOutcome{Complete: true, Payload: complete}
			r.Reset()
			return out, nil
		}

		outcome := FeedOutcome{}
		if r.rxBlockSize > 0 {
			r.sinceFlowCtrl++
			if r.sinceFlowCtrl >= r.rxBlockSize {
				r.sinceFlowCtrl = 0
				outcome.NeedFlowControl = true
			}
		}
		return outcome, nil

	default:
		return FeedOutcome{}, candiag.NewIsoTpError(candiag.IsoTpErrorUnknown, "unexpected PCI type for reception")
	}
}
