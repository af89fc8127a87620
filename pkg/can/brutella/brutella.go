// Package brutella adapts github.com/brutella/can as an alternate Bus
// backend alongside the raw socketcan one.
package brutella

import (
	brutellacan "github.com/brutella/can"
	"github.com/candiag/candiag/pkg/can"
)

func init() {
	can.RegisterInterface("brutella", NewBus)
}

// Bus wraps a brutella/can.Bus, translating frames at the boundary.
type Bus struct {
	bus          *brutellacan.Bus
	frameHandler can.FrameListener
}

func NewBus(channel string) (can.Bus, error) {
	bus, err := brutellacan.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

func (b *Bus) Send(frame can.Frame) error {
	return b.bus.Publish(brutellacan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Flags:  frame.Flags,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(frameHandler can.FrameListener) error {
	b.frameHandler = frameHandler
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's own Handler interface, forwarding into
// the installed FrameListener.
func (b *Bus) Handle(frame brutellacan.Frame) {
	if b.frameHandler == nil {
		return
	}
	b.frameHandler.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data})
}
