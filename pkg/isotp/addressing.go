package isotp

import "github.com/candiag/candiag/pkg/can"

// AddressingMode selects how request/response CAN IDs are derived and
// whether an address-extension byte is prepended to every frame's payload.
type AddressingMode int

const (
	AddressingNormal AddressingMode = iota
	AddressingNormalFixed
	AddressingExtended
)

// normalFixedBase is the physical-addressing base ID for 29-bit UDS over
// CAN (ISO 15765-4), 0x18DA<target><source>.
const normalFixedBase = 0x18DA0000

// Config describes one ISO-TP peer-to-peer link.
type Config struct {
	Addressing       AddressingMode
	TxID             uint32 // CAN ID we transmit on (ignored for AddressingNormalFixed, computed instead)
	RxID             uint32 // CAN ID we listen on (ignored for AddressingNormalFixed, computed instead)
	SourceAddress    byte   // used for AddressingNormalFixed
	TargetAddress    byte   // used for AddressingNormalFixed
	AddressExtension byte   // used for AddressingExtended
	IsExtendedID     bool
	RxBlockSize      byte // BS we advertise in our own flow control frames
	RxSTmin          byte // STmin we advertise in our own flow control frames
	MaxRxSize        int  // cap on a reassembled message's total length, 0 = unbounded
}

// ResolveIDs returns the effective (tx, rx) CAN IDs for cfg, computing the
// normal-fixed addressing scheme's pair from source/target when selected.
func (cfg Config) ResolveIDs() (tx, rx uint32) {
	if cfg.Addressing != AddressingNormalFixed {
		return cfg.TxID, cfg.RxID
	}
	tx = normalFixedBase | uint32(cfg.TargetAddress)<<8 | uint32(cfg.SourceAddress)
	rx = normalFixedBase | uint32(cfg.SourceAddress)<<8 | uint32(cfg.TargetAddress)
	return tx, rx
}

// maxSingleFramePayload returns the single-frame payload capacity for cfg,
// one byte smaller than normal when an address-extension byte is in use.
func (cfg Config) maxSingleFramePayload() int {
	if cfg.Addressing == AddressingExtended {
		return MaxSingleFramePayload - 1
	}
	return MaxSingleFramePayload
}

// PayloadOffset returns the index of the first PCI byte within a frame's
// Data array: 1 when an address-extension byte precedes it, 0 otherwise.
func (cfg Config) PayloadOffset() int {
	if cfg.Addressing == AddressingExtended {
		return 1
	}
	return 0
}

// BuildFrame assembles a CAN frame addressed per cfg, prefixing the
// address-extension byte when cfg.Addressing is AddressingExtended.
func (cfg Config) BuildFrame(id uint32, dlc uint8, payload []byte) can.Frame {
	frame := can.Frame{ID: id, DLC: dlc}
	if cfg.IsExtendedID || cfg.Addressing == AddressingNormalFixed {
		frame.ID |= can.EFFFlag
	}
	offset := 0
	if cfg.Addressing == AddressingExtended {
		frame.Data[0] = cfg.AddressExtension
		offset = 1
	}
	copy(frame.Data[offset:], payload)
	return frame
}
