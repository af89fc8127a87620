package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/candiag/candiag/pkg/can"
	"github.com/candiag/candiag/pkg/can/virtual"
	"github.com/candiag/candiag/pkg/uds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDatabase struct {
	decoded map[string]any
	err     error
}

func (d stubDatabase) Decode(id uint32, data []byte) (map[string]any, error) {
	return d.decoded, d.err
}

type recordingTransport struct {
	payloads [][]byte
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{}
}

func (t *recordingTransport) Send(ctx context.Context, payload []byte) error {
	t.payloads = append(t.payloads, payload)
	return nil
}

func TestMonitorHandleEnqueuesDecodedFrame(t *testing.T) {
	db := stubDatabase{decoded: map[string]any{"rpm": 1200.0}}
	m := NewMonitor(nil, db, newRecordingTransport(), nil, nil)

	m.Handle(can.Frame{ID: 0x100, DLC: 2, Data: [8]byte{0x01, 0x02}})

	select {
	case item := <-m.queue:
		assert.Equal(t, uint32(0x100), item.Frame.ID)
		assert.Equal(t, map[string]any{"rpm": 1200.0}, item.Decoded)
	default:
		t.Fatal("expected an item on the queue")
	}
}

func TestMonitorHandleRecordsDecodingFailure(t *testing.T) {
	db := stubDatabase{err: errors.New("unknown id")}
	metrics := NewMetrics()
	m := NewMonitor(nil, db, newRecordingTransport(), metrics, nil)

	m.Handle(can.Frame{ID: 0x999, DLC: 1})

	assert.Equal(t, uint64(1), metrics.GetSnapshot().DecodingFailures)
}

func TestMonitorHandleDropsOnFullQueue(t *testing.T) {
	db := stubDatabase{decoded: map[string]any{}}
	m := NewMonitor(nil, db, newRecordingTransport(), nil, nil)
	m.queue = make(chan QueueItem, 1)

	m.Handle(can.Frame{ID: 0x1, DLC: 0})
	m.Handle(can.Frame{ID: 0x2, DLC: 0}) // dropped, queue full

	assert.Len(t, m.queue, 1)
}

func TestMonitorRunOnceStopsOnContextCancel(t *testing.T) {
	bus, err := virtual.NewBus(t.Name())
	require.NoError(t, err)
	db := stubDatabase{decoded: map[string]any{}}
	m := NewMonitor(bus, db, newRecordingTransport(), nil, nil)
	m.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	outcome, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, outcome.Stopped)
	assert.Equal(t, StateDisconnected, m.State())
}

type recordingListener struct {
	frames []can.Frame
}

func (r *recordingListener) Handle(frame can.Frame) {
	r.frames = append(r.frames, frame)
}

func TestMonitorHandleDispatchesUDSResponseToReassembler(t *testing.T) {
	db := stubDatabase{decoded: map[string]any{"rpm": 1200.0}}
	m := NewMonitor(nil, db, newRecordingTransport(), nil, nil)
	listener := &recordingListener{}
	m.ConfigureUDSReassembly(0x7E8, listener)

	m.Handle(can.Frame{ID: 0x7E8, DLC: 8})

	require.Len(t, listener.frames, 1)
	assert.Equal(t, uint32(0x7E8), listener.frames[0].ID)
	select {
	case <-m.queue:
		t.Fatal("UDS response frame should not have been enqueued as a regular frame")
	default:
	}
}

func TestMonitorHandleFallsThroughForNonUDSFrames(t *testing.T) {
	db := stubDatabase{decoded: map[string]any{"rpm": 1200.0}}
	m := NewMonitor(nil, db, newRecordingTransport(), nil, nil)
	listener := &recordingListener{}
	m.ConfigureUDSReassembly(0x7E8, listener)

	m.Handle(can.Frame{ID: 0x100, DLC: 2, Data: [8]byte{0x01, 0x02}})

	assert.Empty(t, listener.frames)
	select {
	case item := <-m.queue:
		assert.Equal(t, uint32(0x100), item.Frame.ID)
	default:
		t.Fatal("expected the non-UDS frame to reach the queue")
	}
}

func TestNewDTCLogCallbackEmitsAlertForCriticalDTC(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	m := NewMonitor(nil, stubDatabase{}, newRecordingTransport(), nil, logger)
	m.ConfigureUDSReassembly(0x7E8, &recordingListener{})

	table := uds.DTCTable{
		"P20F9": {Description: "NOx sensor", Severity: uds.SeverityCritical, Alert: true},
		"P058D": {Description: "glow plug", Severity: uds.SeverityWarning, Alert: false},
	}
	cb := m.NewDTCLogCallback(table)
	cb([]byte{0x59, 0x02, 0x02, 0x20, 0xF9, 0x00, 0x40, 0x05, 0x8D, 0x00, 0x40})

	logged := logBuf.String()
	assert.Contains(t, logged, "id=0x7E8")
	assert.Contains(t, logged, "raw=")
	assert.Contains(t, logged, "*** ALERT: Critical DTC P20F9 detected - NOx sensor ***")
	assert.NotContains(t, logged, "ALERT: Critical DTC P058D")
}

func TestNewDTCLogCallbackIgnoresNonDTCPayloads(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	m := NewMonitor(nil, stubDatabase{}, newRecordingTransport(), nil, logger)

	cb := m.NewDTCLogCallback(nil)
	cb([]byte{0x62, 0xF1, 0x90, 0x01})

	assert.Empty(t, logBuf.String())
}

type alwaysFailBus struct{}

func (alwaysFailBus) Connect(...any) error             { return errors.New("io unavailable") }
func (alwaysFailBus) Disconnect() error                { return nil }
func (alwaysFailBus) Send(frame can.Frame) error        { return nil }
func (alwaysFailBus) Subscribe(can.FrameListener) error { return nil }

func TestMonitorRunBacksOffOnConnectFailure(t *testing.T) {
	db := stubDatabase{decoded: map[string]any{}}
	metrics := NewMetrics()
	m := NewMonitor(alwaysFailBus{}, db, newRecordingTransport(), metrics, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, metrics.GetSnapshot().BusErrors, uint64(1))
}
