// Command udsclient issues a single UDS diagnostic request against an ECU
// over ISO-TP and prints the result: a session change, a security access
// handshake, or a DTC read.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/candiag/candiag/pkg/can"
	_ "github.com/candiag/candiag/pkg/can/brutella"
	_ "github.com/candiag/candiag/pkg/can/socketcan"
	_ "github.com/candiag/candiag/pkg/can/virtual"
	"github.com/candiag/candiag/pkg/isotp"
	"github.com/candiag/candiag/pkg/uds"
)

func main() {
	os.Exit(run())
}

func run() int {
	ifaceName := flag.String("interface", "can0", "CAN interface name")
	backend := flag.String("backend", "socketcan", "CAN bus backend: socketcan, virtual, brutella")
	reqID := flag.Uint("request-id", 0x7E0, "ECU request (tx) CAN ID")
	respID := flag.Uint("response-id", 0x7E8, "ECU response (rx) CAN ID")
	source := flag.Uint("source", 0, "source address (enables normal-fixed 29-bit addressing when set with -target)")
	target := flag.Uint("target", 0, "target address")
	timeout := flag.Duration("timeout", 2*time.Second, "request timeout")

	session := flag.Int("session", -1, "diagnostic session to request (1=default, 2=programming, 3=extended)")
	securityLevel := flag.Int("security-level", -1, "security access level to request")
	securityKey := flag.String("security-key", "", "hex-encoded key; derived from the seed via the default algorithm if empty")
	readDTCs := flag.Bool("dtc", false, "read DTCs by status mask")
	statusMask := flag.Uint("status-mask", 0xFF, "DTC status mask")
	flag.Parse()

	bus, err := can.NewBus(*backend, *ifaceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "udsclient: open bus: %v\n", err)
		return 1
	}
	if err := bus.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "udsclient: connect: %v\n", err)
		return 1
	}
	defer bus.Disconnect()

	cfg := isotp.Config{TxID: uint32(*reqID), RxID: uint32(*respID)}
	if *source != 0 && *target != 0 {
		cfg.Addressing = isotp.AddressingNormalFixed
		cfg.SourceAddress = byte(*source)
		cfg.TargetAddress = byte(*target)
	}

	sess := isotp.NewSession(bus, cfg, nil)
	sess.FrameTimeout = *timeout
	if err := bus.Subscribe(sess); err != nil {
		fmt.Fprintf(os.Stderr, "udsclient: subscribe: %v\n", err)
		return 1
	}

	client := uds.NewClient(sess, nil, uds.Callbacks{})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch {
	case *session >= 0:
		ok, err := client.ChangeSession(ctx, byte(*session))
		return report(map[string]any{"accepted": ok}, err)

	case *securityLevel >= 0:
		var key []byte
		if *securityKey != "" {
			key, err = parseHexKey(*securityKey)
			if err != nil {
				fmt.Fprintf(os.Stderr, "udsclient: invalid security key: %v\n", err)
				return 1
			}
		}
		ok, err := client.SecurityAccess(ctx, byte(*securityLevel), key)
		return report(map[string]any{"accepted": ok}, err)

	case *readDTCs:
		resp, err := client.ReadDTCByStatusMask(ctx, byte(*statusMask))
		if err != nil {
			return report(nil, err)
		}
		dtcs, err := uds.DecodeDTCs(resp)
		return report(dtcs, err)

	default:
		fmt.Fprintln(os.Stderr, "udsclient: specify one of -session, -security-level, -dtc")
		return 1
	}
}

func parseHexKey(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func report(v any, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "udsclient: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return 0
}
