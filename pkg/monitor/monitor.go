package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/candiag/candiag/pkg/can"
	"github.com/candiag/candiag/pkg/candb"
	"github.com/candiag/candiag/pkg/uds"
)

var errBusOff = errors.New("monitor: bus reported bus-off")

// State is the frame monitor pipeline's explicit lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRunning
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	default:
		return "disconnected"
	}
}

// busOffReporter is implemented by backends (socketcan.Bus) that can report
// a sticky bus-off condition observed from error frames.
type busOffReporter interface {
	BusOff() bool
}

const queueCapacity = 1000

// Monitor bridges a Bus's decoded frames to a Transport through a bounded,
// drop-on-full queue, with a single consumer goroutine.
type Monitor struct {
	bus       can.Bus
	db        candb.Database
	transport Transport
	metrics   *Metrics
	logger    *slog.Logger

	queue chan QueueItem
	state State

	pollInterval time.Duration

	// udsReassembler, when configured, receives frames whose ID matches
	// udsResponseID instead of having them decoded against db. See
	// ConfigureUDSReassembly.
	udsResponseID  uint32
	udsReassembler can.FrameListener
}

func NewMonitor(bus can.Bus, db candb.Database, transport Transport, metrics *Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Monitor{
		bus:          bus,
		db:           db,
		transport:    transport,
		metrics:      metrics,
		logger:       logger,
		queue:        make(chan QueueItem, queueCapacity),
		state:        StateDisconnected,
		pollInterval: 200 * time.Millisecond,
	}
}

func (m *Monitor) State() State {
	return m.state
}

// ConfigureUDSReassembly routes every frame whose ID (masked of the EFF bit)
// equals responseID to reassembler instead of the signal database decoder.
// Frames carrying a UDS response are never logged as regular frames; the
// reassembler's own Callbacks.Ind is where they surface. Passing a nil
// reassembler disables the dispatch.
func (m *Monitor) ConfigureUDSReassembly(responseID uint32, reassembler can.FrameListener) {
	m.udsResponseID = responseID
	m.udsReassembler = reassembler
}

// NewDTCLogCallback builds a uds.Callbacks.Ind function that decodes a
// ReadDTCByStatusMask response reassembled by the passive UDS listener
// against table, logs one record per DTC, and additionally emits the
// critical-alert line for any DTC flagged both CRITICAL and Alert.
func (m *Monitor) NewDTCLogCallback(table uds.DTCTable) func(payload []byte) {
	return func(payload []byte) {
		if len(payload) < 2 || payload[0] != 0x59 || payload[1] != 0x02 {
			return
		}
		dtcs, err := uds.DecodeDTCsWithTable(payload, table)
		if err != nil {
			m.logger.Warn("dtc decode failed", "id", m.udsResponseID, "raw", fmt.Sprintf("%x", payload), "err", err)
			return
		}
		for _, dtc := range dtcs {
			m.logger.Info(fmt.Sprintf("id=0x%03X raw=%x decoded=%s", m.udsResponseID, payload, dtc.Code))
			if dtc.Severity == uds.SeverityCritical && dtc.Alert {
				m.logger.Warn(fmt.Sprintf("*** ALERT: Critical DTC %s detected - %s ***", dtc.Code, dtc.Description))
			}
		}
	}
}

// Handle implements can.FrameListener. Frames matching the configured UDS
// response ID are handed to the passive reassembler; everything else is
// decoded against db and enqueued, dropping (with a warning) on a full queue
// rather than blocking the bus's receive goroutine.
func (m *Monitor) Handle(frame can.Frame) {
	if m.udsReassembler != nil && frame.ID&^can.EFFFlag == m.udsResponseID {
		m.udsReassembler.Handle(frame)
		return
	}

	decoded, err := m.db.Decode(frame.ID, frame.Data[:frame.DLC])
	if err != nil {
		m.metrics.RecordDecodingFailure()
		m.logger.Debug("frame decode failed", "id", frame.ID, "err", err)
	}
	m.logFrame(frame, decoded)
	item := NewQueueItem(frame, decoded, err)
	select {
	case m.queue <- item:
	default:
		m.logger.Warn("transport queue full, dropping frame", "id", frame.ID)
	}
}

// logFrame writes one record in the "id=... raw=... [decoded=...]" format,
// using an 8-digit ID field for extended frames and 3 digits otherwise.
func (m *Monitor) logFrame(frame can.Frame, decoded map[string]any) {
	width := "%03X"
	if frame.IsExtended() {
		width = "%08X"
	}
	line := fmt.Sprintf("id=0x"+width+" raw=%x", frame.ID&can.EFFMask, frame.Data[:frame.DLC])
	if decoded != nil {
		line += fmt.Sprintf(" decoded=%v", decoded)
	}
	m.logger.Info(line)
}

// FrameLoopOutcome is what one RunOnce attempt produced.
type FrameLoopOutcome struct {
	Stopped bool  // ctx was cancelled; caller should not reconnect
	Cause   error // non-nil when the bus went down and a restart is warranted
}

// RunOnce connects the bus, subscribes to frames, and drains the queue into
// the transport until ctx is cancelled or the bus reports bus-off.
func (m *Monitor) RunOnce(ctx context.Context) (FrameLoopOutcome, error) {
	m.state = StateConnecting
	if err := m.bus.Connect(); err != nil {
		m.state = StateDisconnected
		return FrameLoopOutcome{}, err
	}
	if err := m.bus.Subscribe(m); err != nil {
		m.state = StateDisconnected
		return FrameLoopOutcome{}, err
	}
	defer m.bus.Disconnect()

	m.state = StateRunning
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.state = StateDisconnected
			return FrameLoopOutcome{Stopped: true}, nil

		case item := <-m.queue:
			m.forward(ctx, item)

		case <-ticker.C:
			if reporter, ok := m.bus.(busOffReporter); ok && reporter.BusOff() {
				m.state = StateRestarting
				m.metrics.RecordBusError()
				return FrameLoopOutcome{Cause: errBusOff}, nil
			}
		}
	}
}

func (m *Monitor) forward(ctx context.Context, item QueueItem) {
	payload, err := item.JSON()
	if err != nil {
		m.logger.Error("failed to serialize queue item", "err", err)
		return
	}
	if err := m.transport.Send(ctx, payload); err != nil {
		m.logger.Error("transport send failed", "err", err)
	}
}

// Run drives RunOnce in a loop, applying exponential backoff (capped at 30s,
// doubling from 1s on each consecutive connect failure, back to 1s after a
// run that reached RUNNING) between restarts, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	delay := time.Second
	const maxDelay = 30 * time.Second

	for {
		outcome, err := m.RunOnce(ctx)
		if err != nil {
			m.metrics.RecordBusError()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = minDuration(delay*2, maxDelay)
			m.metrics.RecordRestart()
			continue
		}
		if outcome.Stopped {
			return nil
		}
		// Bus-off after a successful RUNNING entry: back off from the
		// initial delay again, then reconnect.
		delay = time.Second
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = minDuration(delay*2, maxDelay)
		m.metrics.RecordRestart()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
