// Package monitor wires a Bus, a candb.Database, and a Transport together
// into the frame monitor pipeline: decode every received frame, forward it
// to a bounded queue, and hand the queue off to a retrying sender.
package monitor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/candiag/candiag/pkg/can"
	"github.com/rs/xid"
)

// QueueItem is one decoded frame on its way to a Transport. CorrelationID
// is a fresh xid per item; it is not included in JSON() or CSV() output,
// nor in the monitor's log record for the frame.
type QueueItem struct {
	CorrelationID string
	Frame         can.Frame
	Decoded       map[string]any
	DecodeError   error
}

func NewQueueItem(frame can.Frame, decoded map[string]any, decodeErr error) QueueItem {
	return QueueItem{
		CorrelationID: xid.New().String(),
		Frame:         frame,
		Decoded:       decoded,
		DecodeError:   decodeErr,
	}
}

// JSON serializes the item as {"id", "raw", "decoded"}.
func (item QueueItem) JSON() ([]byte, error) {
	return json.Marshal(struct {
		ID      uint32         `json:"id"`
		Raw     string         `json:"raw"`
		Decoded map[string]any `json:"decoded,omitempty"`
	}{
		ID:      item.Frame.ID,
		Raw:     fmt.Sprintf("%x", item.Frame.Data[:item.Frame.DLC]),
		Decoded: item.Decoded,
	})
}

// CSV serializes the item as "id,raw,decoded" with decoded signals rendered
// as key=value pairs separated by ';'.
func (item QueueItem) CSV() (string, error) {
	pairs := make([]string, 0, len(item.Decoded))
	for k, v := range item.Decoded {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%x,%s,%s", item.Frame.ID, fmt.Sprintf("%x", item.Frame.Data[:item.Frame.DLC]), strings.Join(pairs, ";")), nil
}
