// Command candiag runs the frame monitor pipeline: bring up a CAN
// interface, decode every frame against a signal database, watch for UDS
// diagnostic responses, and forward decoded records to a transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/candiag/candiag/pkg/can"
	_ "github.com/candiag/candiag/pkg/can/brutella"
	_ "github.com/candiag/candiag/pkg/can/socketcan"
	_ "github.com/candiag/candiag/pkg/can/virtual"
	"github.com/candiag/candiag/pkg/candb"
	"github.com/candiag/candiag/pkg/config"
	"github.com/candiag/candiag/pkg/gateway"
	"github.com/candiag/candiag/pkg/ifconfig"
	"github.com/candiag/candiag/pkg/isotp"
	"github.com/candiag/candiag/pkg/monitor"
	"github.com/candiag/candiag/pkg/uds"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	bitrate := flag.Int("bitrate", 500000, "CAN bus bitrate")
	ifaceName := flag.String("interface", "can0", "CAN interface name")
	backend := flag.String("backend", "socketcan", "CAN bus backend: socketcan, virtual, brutella")
	logPath := flag.String("log", "", "log file path (default stderr)")
	listenOnly := flag.Bool("listen-only", false, "bring the interface up in listen-only mode")
	printRaw := flag.Bool("print-raw", false, "log every raw frame, not just decoded ones")
	configPath := flag.String("config", "", "JSON configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	candbPath := flag.String("candb", "", "signal database path (ini format)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics and the JSON snapshot on (disabled if empty)")
	gatewayAddr := flag.String("gateway-addr", "", "address to serve the diagnostic HTTP gateway on (disabled if empty)")
	flag.Parse()

	logger, closeLog, err := newLogger(*logPath, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candiag: %v\n", err)
		return 1
	}
	defer closeLog()

	var cfg config.Config
	if *configPath != "" {
		cfg, err = config.JSONLoader{}.Load(*configPath)
		if err != nil {
			logger.Error("failed to load configuration", "err", err)
			return 1
		}
	}

	if *backend == "socketcan" {
		ifconfig.SetupInterface(ifconfig.ExecRunner{}, logger, *ifaceName, *bitrate, *listenOnly)
	}

	bus, err := can.NewBus(*backend, *ifaceName)
	if err != nil {
		logger.Error("failed to open CAN bus", "backend", *backend, "err", err)
		return 1
	}

	db, err := loadDatabase(*candbPath)
	if err != nil {
		logger.Error("failed to load signal database", "err", err)
		return 1
	}

	metrics := monitor.NewMetrics()
	transport := monitor.NewRetryingTransport(monitor.NewLogTransport(logger), 3, time.Second, logger)
	mon := monitor.NewMonitor(bus, db, transport, metrics, logger)

	if cfg.UDS.EcuResponseID != 0 {
		isotpCfg := isotp.Config{
			TxID:        cfg.UDS.EcuRequestID,
			RxID:        cfg.UDS.EcuResponseID,
			RxBlockSize: cfg.UDS.FlowControl.BlockSize,
			RxSTmin:     stminMsToByte(cfg.UDS.FlowControl.STminMs),
			MaxRxSize:   cfg.UDS.MaxRxSize,
		}
		dtcTable := dtcTableFromConfig(cfg)
		reassembler := uds.NewPassiveReassembler(bus, isotpCfg, uds.Callbacks{
			Ind: mon.NewDTCLogCallback(dtcTable),
		})
		mon.ConfigureUDSReassembly(cfg.UDS.EcuResponseID, reassembler)
	}

	if *printRaw {
		logger.Info("print-raw enabled: every frame will be logged regardless of decode outcome")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, metrics, logger)
	}
	if *gatewayAddr != "" && cfg.UDS.EcuRequestID != 0 {
		go serveGateway(*gatewayAddr, bus, cfg, logger)
	}

	if err := mon.Run(ctx); err != nil {
		logger.Error("monitor pipeline exited with error", "err", err)
		return 1
	}
	return 0
}

func loadDatabase(path string) (candb.Database, error) {
	if path == "" {
		return emptyDatabase{}, nil
	}
	return candb.NewINIDatabase(path)
}

// emptyDatabase is the default when no signal database is configured: every
// frame decodes to NotFound, matching the behavior of an unconfigured table.
type emptyDatabase struct{}

func (emptyDatabase) Decode(id uint32, data []byte) (map[string]any, error) {
	return nil, candb.ErrNotFound
}

func newLogger(path, level string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	out := os.Stderr
	closer := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = func() { _ = f.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})), closer, nil
}

func serveMetrics(addr string, metrics *monitor.Metrics, logger *slog.Logger) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(monitor.NewPrometheusCollector(metrics))

	mux := http.NewServeMux()
	mux.HandleFunc("/", metrics.ServeHTTP)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "err", err)
	}
}

func serveGateway(addr string, sender isotp.Sender, cfg config.Config, logger *slog.Logger) {
	isotpCfg := isotp.Config{
		TxID:        cfg.UDS.EcuRequestID,
		RxID:        cfg.UDS.EcuResponseID,
		RxBlockSize: cfg.UDS.FlowControl.BlockSize,
		RxSTmin:     stminMsToByte(cfg.UDS.FlowControl.STminMs),
		MaxRxSize:   cfg.UDS.MaxRxSize,
	}
	session := isotp.NewSession(sender, isotpCfg, nil)
	client := uds.NewClient(session, nil, uds.Callbacks{})
	srv := gateway.NewServer(client, dtcTableFromConfig(cfg), logger)
	if err := srv.ListenAndServe(addr); err != nil {
		logger.Error("gateway server exited", "err", err)
	}
}

// stminMsToByte clamps a configured millisecond separation time into the
// 0-0x7F whole-millisecond range of the ISO-TP STmin wire encoding.
func stminMsToByte(ms int) byte {
	if ms < 0 {
		return 0
	}
	if ms > 0x7F {
		return 0x7F
	}
	return byte(ms)
}

func dtcTableFromConfig(cfg config.Config) uds.DTCTable {
	if len(cfg.UDS.DTCs) == 0 {
		return nil
	}
	table := make(uds.DTCTable, len(cfg.UDS.DTCs))
	for code, entry := range cfg.UDS.DTCs {
		var severity uds.Severity
		switch entry.Severity {
		case "INFO":
			severity = uds.SeverityInfo
		case "WARNING":
			severity = uds.SeverityWarning
		case "CRITICAL":
			severity = uds.SeverityCritical
		default:
			severity = uds.SeverityUnknown
		}
		table[code] = uds.DTCInfo{Description: entry.Description, Severity: severity, Alert: entry.Alert}
	}
	return table
}
