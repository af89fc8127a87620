// Package socketcan is a raw SocketCAN backend built directly on
// golang.org/x/sys/unix, without cgo.
package socketcan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/candiag/candiag/pkg/can"
	"golang.org/x/sys/unix"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

const (
	canFrameSize = 16
	msgBatchSize = 64

	// canErrBusOff is the CAN_ERR_BUSOFF error-class bit carried in the ID
	// of an error frame.
	canErrBusOff uint32 = 0x00000040
)

var defaultTimeVal = unix.Timeval{Usec: 100_000}

// canFrame matches the kernel's struct can_frame layout.
type canFrame struct {
	id   uint32
	dlc  uint8
	pad  uint8
	res0 uint8
	res1 uint8
	data [8]uint8
}

// Bus is a SocketCAN Bus backed by one AF_CAN/SOCK_RAW socket.
type Bus struct {
	fd         int
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
	busOff     atomic.Bool
}

// NewBus opens a raw CAN socket bound to channel (e.g. "can0"). The
// interface must already be administered up; see pkg/ifconfig for bringing
// it up.
func NewBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: create socket: %w", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &defaultTimeVal); err != nil {
		return nil, fmt.Errorf("socketcan: set read timeout: %w", err)
	}
	// CAN_RAW_ERR_FILTER with ERR_MASK_ALL lets bus-off/error frames through
	// even though data frame filtering is otherwise left at "accept all".
	_ = unix.SetsockoptUint32(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, 0x1FFFFFFF)
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, err
	}
	return &Bus{fd: fd, logger: slog.Default()}, nil
}

func (b *Bus) Connect(...any) error {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

func (b *Bus) Disconnect() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.wg.Wait()
	return unix.Close(b.fd)
}

func (b *Bus) Send(frame can.Frame) error {
	raw := &canFrame{id: frame.ID, dlc: frame.DLC, pad: frame.Flags, data: frame.Data}
	rawBytes := (*(*[canFrameSize]byte)(unsafe.Pointer(raw)))[:]
	n, err := unix.Write(b.fd, rawBytes)
	if n != canFrameSize || err != nil {
		return fmt.Errorf("socketcan: write: %w", err)
	}
	return nil
}

// BusOff reports whether an ERR_BUSOFF error frame has been observed since
// the Bus was opened. The flag is sticky: nothing clears it.
func (b *Bus) BusOff() bool {
	return b.busOff.Load()
}

func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	return nil
}

// SetReceiveOwn toggles CAN_RAW_RECV_OWN_MSGS, useful for loopback tests.
func (b *Bus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

func (b *Bus) processIncoming(ctx context.Context) {
	if err := unix.SetNonblock(b.fd, false); err != nil {
		b.logger.Error("failed to set blocking mode", "err", err)
		return
	}

	frames := make([]canFrame, msgBatchSize)
	iovecs := make([]unix.Iovec, msgBatchSize)
	mmsgs := make([]Mmsghdr, msgBatchSize)
	for i := range msgBatchSize {
		iovecs[i].Base = (*byte)(unsafe.Pointer(&frames[i]))
		iovecs[i].SetLen(canFrameSize)
		mmsgs[i].Hdr.Iov = &iovecs[i]
		mmsgs[i].Hdr.Iovlen = 1
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			ts := unix.Timespec{Nsec: 10_000_000}
			n, _, errno := unix.Syscall6(
				unix.SYS_RECVMMSG,
				uintptr(b.fd),
				uintptr(unsafe.Pointer(&mmsgs[0])),
				uintptr(msgBatchSize),
				0,
				uintptr(unsafe.Pointer(&ts)),
				0,
			)
			if errno != 0 {
				if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR {
					continue
				}
				b.logger.Error("socketcan: recvmmsg", "err", errno)
				return
			}
			for i := 0; i < int(n); i++ {
				frame := frames[i]
				if frame.id&uint32(can.ERRFlag) != 0 && frame.id&canErrBusOff != 0 {
					b.busOff.Store(true)
				}
				if b.rxCallback != nil {
					b.rxCallback.Handle(can.Frame{ID: frame.id, DLC: frame.dlc, Flags: frame.pad, Data: frame.data})
				}
			}
		}
	}
}
