// Package virtual provides an in-process CAN bus used as a test double.
// Unlike a real interface it needs no broker process: every Bus opened on
// the same channel name shares a process-local broadcast registry.
package virtual

import (
	"sync"

	"github.com/candiag/candiag/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
}

type broker struct {
	mu   sync.Mutex
	subs []*Bus
}

var (
	brokersMu sync.Mutex
	brokers   = make(map[string]*broker)
)

func brokerFor(channel string) *broker {
	brokersMu.Lock()
	defer brokersMu.Unlock()
	b, ok := brokers[channel]
	if !ok {
		b = &broker{}
		brokers[channel] = b
	}
	return b
}

// Bus is one participant on a named virtual channel.
type Bus struct {
	channel      string
	broker       *broker
	mu           sync.Mutex
	receiveOwn   bool
	framehandler can.FrameListener
	connected    bool
}

func NewBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, broker: brokerFor(channel)}, nil
}

func (b *Bus) Connect(...any) error {
	b.broker.mu.Lock()
	defer b.broker.mu.Unlock()
	b.connected = true
	b.broker.subs = append(b.broker.subs, b)
	return nil
}

func (b *Bus) Disconnect() error {
	b.broker.mu.Lock()
	defer b.broker.mu.Unlock()
	b.connected = false
	for i, sub := range b.broker.subs {
		if sub == b {
			b.broker.subs = append(b.broker.subs[:i], b.broker.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	b.broker.mu.Lock()
	subs := make([]*Bus, len(b.broker.subs))
	copy(subs, b.broker.subs)
	b.broker.mu.Unlock()

	for _, sub := range subs {
		if sub == b && !b.receiveOwn {
			continue
		}
		sub.mu.Lock()
		handler := sub.framehandler
		sub.mu.Unlock()
		if handler != nil {
			handler.Handle(frame)
		}
	}
	return nil
}

func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

// SetReceiveOwn makes Send also deliver to this bus's own listener, mirroring
// a real interface's CAN_RAW_RECV_OWN_MSGS option.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}
