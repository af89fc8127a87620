package gateway

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/candiag/candiag/pkg/can"
	"github.com/candiag/candiag/pkg/isotp"
	"github.com/candiag/candiag/pkg/uds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopbackSender struct {
	onSend func(frame can.Frame)
}

func (l *loopbackSender) Send(frame can.Frame) error {
	if l.onSend != nil {
		l.onSend(frame)
	}
	return nil
}

func newTestServer(t *testing.T, respond func(service byte, data []byte) []byte) *Server {
	t.Helper()
	cfg := isotp.Config{TxID: 0x7E0, RxID: 0x7E8}
	sender := &loopbackSender{}
	session := isotp.NewSession(sender, cfg, nil)
	session.FrameTimeout = 500 * time.Millisecond

	sender.onSend = func(frame can.Frame) {
		pciType := frame.Data[0] >> 4
		if pciType != isotp.PCISingleFrame {
			return
		}
		length := int(frame.Data[0] & 0x0F)
		service := frame.Data[1]
		data := append([]byte(nil), frame.Data[2:1+length]...)
		go func() {
			resp := respond(service, data)
			respFrame := cfg.BuildFrame(0x7E8, 8, append([]byte{byte(len(resp))}, resp...))
			session.Handle(respFrame)
		}()
	}

	client := uds.NewClient(session, nil, uds.Callbacks{})
	return NewServer(client, nil, nil)
}

func TestHandleSessionPostsChangesSession(t *testing.T) {
	srv := newTestServer(t, func(service byte, data []byte) []byte {
		return []byte{0x50, data[0]}
	})

	req := httptest.NewRequest("POST", "/session/3", nil).WithContext(context.Background())
	rec := httptest.NewRecorder()
	srv.serveMux.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "true")
}

func TestHandleDTCReturnsDecodedCodes(t *testing.T) {
	srv := newTestServer(t, func(service byte, data []byte) []byte {
		return []byte{0x59, 0x02, 0x01, 0x03, 0x01, 0x00, 0xFF}
	})

	req := httptest.NewRequest("GET", "/dtc", nil)
	rec := httptest.NewRecorder()
	srv.serveMux.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "P0301")
}

func TestHandleUnknownRouteReturns404(t *testing.T) {
	srv := newTestServer(t, func(service byte, data []byte) []byte { return nil })

	req := httptest.NewRequest("GET", "/nope", nil)
	rec := httptest.NewRecorder()
	srv.serveMux.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}
