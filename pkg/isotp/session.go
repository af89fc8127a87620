package isotp

import (
	"context"
	"time"

	candiag "github.com/candiag/candiag"
	"github.com/candiag/candiag/pkg/can"
	"github.com/sirupsen/logrus"
)

// Sender transmits a single CAN frame. can.Bus satisfies it.
type Sender interface {
	Send(frame can.Frame) error
}

// Session drives one ISO-TP peer-to-peer link: segmenting outbound payloads
// into SF/FF/CF frames and reassembling inbound ones, exchanging flow
// control as required. It does not subscribe to a bus itself — the owner
// feeds it matching frames through Handle.
type Session struct {
	sender Sender
	cfg    Config
	logger *logrus.Logger

	// FrameTimeout bounds each individual wait: for a flow control frame
	// while sending, and for the next frame of a reception while receiving.
	FrameTimeout time.Duration

	dataFrames chan []byte
	fcFrames   chan []byte

	reassembler *Reassembler
}

func NewSession(sender Sender, cfg Config, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		sender:       sender,
		cfg:          cfg,
		logger:       logger,
		FrameTimeout: time.Second,
		dataFrames:   make(chan []byte, 16),
		fcFrames:     make(chan []byte, 4),
		reassembler:  NewReassembler(cfg.RxBlockSize, cfg.MaxRxSize),
	}
}

// Handle implements can.FrameListener, filtering for frames on this
// session's RxID and routing them to the send or receive path.
func (s *Session) Handle(frame can.Frame) {
	_, rx := s.cfg.ResolveIDs()
	id := frame.ID &^ can.EFFFlag
	if id != rx {
		return
	}
	offset := s.cfg.PayloadOffset()
	if offset == 1 && frame.Data[0] != s.cfg.AddressExtension {
		return
	}
	payload := append([]byte(nil), frame.Data[offset:frame.DLC]...)
	if len(payload) == 0 {
		return
	}
	if payload[0]>>4 == PCIFlowControl {
		select {
		case s.fcFrames <- payload:
		default:
			s.logger.Warn("isotp: dropping flow control frame, channel full")
		}
		return
	}
	select {
	case s.dataFrames <- payload:
	default:
		s.logger.Warn("isotp: dropping data frame, channel full")
	}
}

// Send segments payload into SF or FF+CF frames, exchanging flow control as
// needed, and transmits it on the configured TxID.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	tx, _ := s.cfg.ResolveIDs()
	maxSF := s.cfg.maxSingleFramePayload()

	if len(payload) <= maxSF {
		data := make([]byte, 1+len(payload))
		data[0] = PCISingleFrame<<4 | byte(len(payload))
		copy(data[1:], payload)
		return s.sender.Send(s.cfg.BuildFrame(tx, 8, data))
	}

	if len(payload) > MaxFirstFrameLength {
		return candiag.NewIsoTpError(candiag.IsoTpErrorOverflow, "payload exceeds first frame length field")
	}

	offset := s.cfg.PayloadOffset()
	ffCapacity := 8 - offset - 2
	ff := make([]byte, 2+ffCapacity)
	ff[0] = PCIFirstFrame<<4 | byte(len(payload)>>8)
	ff[1] = byte(len(payload))
	copy(ff[2:], payload[:ffCapacity])
	if err := s.sender.Send(s.cfg.BuildFrame(tx, 8, ff)); err != nil {
		return err
	}
	sent := ffCapacity

	blockSize, stmin, err := s.waitForFlowControl(ctx)
	if err != nil {
		return err
	}

	cfCapacity := 8 - offset - 1
	seq := byte(1)
	sinceFC := byte(0)
	for sent < len(payload) {
		end := sent + cfCapacity
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[sent:end]
		cf := make([]byte, 1+len(chunk))
		cf[0] = PCIConsecutiveFrame<<4 | seq
		copy(cf[1:], chunk)
		if err := s.sender.Send(s.cfg.BuildFrame(tx, 8, cf)); err != nil {
			return err
		}
		sent = end
		seq = (seq + 1) & 0x0F

		if sent >= len(payload) {
			break
		}

		sinceFC++
		if blockSize > 0 && sinceFC >= blockSize {
			sinceFC = 0
			blockSize, stmin, err = s.waitForFlowControl(ctx)
			if err != nil {
				return err
			}
			continue
		}

		if stmin > 0 {
			time.Sleep(time.Duration(decodeSTmin(stmin)) * time.Microsecond)
		}
	}
	return nil
}

// waitForFlowControl waits for one flow control frame, transparently
// retrying on FlowStatusWait, and returns the advertised block size and
// separation time.
func (s *Session) waitForFlowControl(ctx context.Context) (blockSize byte, stmin byte, err error) {
	timeout := time.After(s.FrameTimeout)
	for {
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case payload := <-s.fcFrames:
			if len(payload) < 3 {
				return 0, 0, candiag.NewIsoTpError(candiag.IsoTpErrorUnknown, "malformed flow control frame")
			}
			status := payload[0] & 0x0F
			switch status {
			case FlowStatusContinueToSend:
				return payload[1], payload[2], nil
			case FlowStatusWait:
				continue
			case FlowStatusOverflow:
				return 0, 0, candiag.NewIsoTpError(candiag.IsoTpErrorFlowControlAbort, "peer reported overflow")
			default:
				return 0, 0, candiag.NewIsoTpError(candiag.IsoTpErrorUnknown, "unknown flow status")
			}
		case <-timeout:
			return 0, 0, candiag.NewIsoTpError(candiag.IsoTpErrorTimeout, "timed out waiting for flow control")
		}
	}
}

func (s *Session) sendFlowControl(status byte) error {
	tx, _ := s.cfg.ResolveIDs()
	data := []byte{PCIFlowControl<<4 | status, s.cfg.RxBlockSize, s.cfg.RxSTmin}
	return s.sender.Send(s.cfg.BuildFrame(tx, 8, data))
}

// Receive blocks until one full ISO-TP message has been reassembled from
// frames delivered via Handle, or ctx is cancelled.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	s.reassembler.Reset()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case payload := <-s.dataFrames:
			outcome, err := s.reassembler.Feed(payload)
			if outcome.NeedFlowControl {
				if fcErr := s.sendFlowControl(outcome.FlowStatus); fcErr != nil {
					return nil, fcErr
				}
			}
			if err != nil {
				return nil, err
			}
			if outcome.Complete {
				return outcome.Payload, nil
			}
		case <-time.After(s.FrameTimeout):
			return nil, candiag.NewIsoTpError(candiag.IsoTpErrorTimeout, "timed out waiting for a frame")
		}
	}
}
