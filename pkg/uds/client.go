package uds

import (
	"context"
	"fmt"

	"github.com/candiag/candiag/pkg/isotp"
)

// Diagnostic session control (0x10) session types.
const (
	SessionDefault     byte = 0x01
	SessionProgramming byte = 0x02
	SessionExtended    byte = 0x03
)

// Service identifiers used by Client.
const (
	serviceDiagnosticSessionControl byte = 0x10
	serviceSecurityAccess           byte = 0x27
	serviceReadDTCByStatusMask      byte = 0x19
)

const positiveResponseOffset byte = 0x40

// KeyAlgorithm derives a security access key from an ECU-provided seed.
type KeyAlgorithm func(seed []byte) []byte

// DefaultKeyAlgorithm flips every bit of the seed. Real ECUs use a
// proprietary algorithm; this is the deterministic stand-in the
// specification calls for in place of one.
func DefaultKeyAlgorithm(seed []byte) []byte {
	key := make([]byte, len(seed))
	for i, b := range seed {
		key[i] = b ^ 0xFF
	}
	return key
}

// Client is a UDS request/response engine driving one ISO-TP session.
type Client struct {
	session   *isotp.Session
	keyAlgo   KeyAlgorithm
	Callbacks Callbacks
}

func NewClient(session *isotp.Session, keyAlgo KeyAlgorithm, callbacks Callbacks) *Client {
	if keyAlgo == nil {
		keyAlgo = DefaultKeyAlgorithm
	}
	return &Client{session: session, keyAlgo: keyAlgo, Callbacks: callbacks}
}

// Session returns the underlying ISO-TP session, whose Handle method should
// be wired as the Bus's FrameListener (directly, or fanned in from a
// demuxer shared with other sessions).
func (c *Client) Session() *isotp.Session {
	return c.session
}

// request sends service+data and blocks for the matching response,
// invoking the T_Data primitives around the exchange. Con confirms the
// request was transmitted (mirroring ISO 14229 T_Data.con), not that a
// response was received — that is Ind's job.
func (c *Client) request(ctx context.Context, service byte, data []byte) ([]byte, error) {
	c.Callbacks.req(service, data)
	payload := append([]byte{service}, data...)
	err := c.session.Send(ctx, payload)
	c.Callbacks.con(err == nil, err)
	if err != nil {
		return nil, err
	}
	c.Callbacks.somInd()
	response, err := c.session.Receive(ctx)
	if err != nil {
		return nil, err
	}
	c.Callbacks.ind(response)
	return response, nil
}

// ChangeSession requests DiagnosticSessionControl and reports whether the
// ECU confirmed the requested session.
func (c *Client) ChangeSession(ctx context.Context, session byte) (bool, error) {
	resp, err := c.request(ctx, serviceDiagnosticSessionControl, []byte{session})
	if err != nil {
		return false, err
	}
	return len(resp) >= 2 && resp[0] == serviceDiagnosticSessionControl+positiveResponseOffset && resp[1] == session, nil
}

// SecurityAccess requests the seed for level, derives (or uses the
// supplied) key, and sends it back. It reports whether the ECU accepted it.
func (c *Client) SecurityAccess(ctx context.Context, level byte, key []byte) (bool, error) {
	seedResp, err := c.request(ctx, serviceSecurityAccess, []byte{level*2 - 1})
	if err != nil {
		return false, err
	}
	if len(seedResp) < 2 || seedResp[0] != serviceSecurityAccess+positiveResponseOffset {
		return false, fmt.Errorf("uds: unexpected security access seed response %x", seedResp)
	}
	seed := seedResp[2:]
	if key == nil {
		key = c.keyAlgo(seed)
	}
	keyResp, err := c.request(ctx, serviceSecurityAccess, append([]byte{level * 2}, key...))
	if err != nil {
		return false, err
	}
	return len(keyResp) >= 2 && keyResp[0] == serviceSecurityAccess+positiveResponseOffset && keyResp[1] == level*2, nil
}

// ReadDTCByStatusMask issues ReadDTCByStatusMask (reportDTCByStatusMask
// sub-function) and returns the raw positive response payload.
func (c *Client) ReadDTCByStatusMask(ctx context.Context, mask byte) ([]byte, error) {
	return c.request(ctx, serviceReadDTCByStatusMask, []byte{0x02, mask})
}
