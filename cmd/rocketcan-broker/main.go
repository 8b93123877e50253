// Command rocketcan-broker wires the RocketCAN broker core to a demo
// CAN driver (SocketCAN or a serial SLCAN-style adapter) and exposes
// the result over TCP, adapted from the teacher's cmd/can-server main,
// generalized from can.Frame/hub.Hub to canframe.Frame/broker.Broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mac-can/rocketcan-go/internal/broker"
	"github.com/mac-can/rocketcan-go/internal/candrv"
	"github.com/mac-can/rocketcan-go/internal/metrics"
	"github.com/mac-can/rocketcan-go/internal/transport"
)

// version/commit/date are set via -ldflags at build time; left as
// "dev"/"none"/"unknown" for local builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const driverTxQueueSize = 1024

func main() {
	os.Exit(run())
}

func run() int {
	cfg, showVersion, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if showVersion {
		fmt.Printf("rocketcan-broker %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	eventLevel, err := parseEventLogLevel(cfg.eventLogLevel)
	if err != nil {
		l.Error("config_error", "error", err)
		return 1
	}

	drv, err := initDriver(cfg)
	if err != nil {
		l.Error("driver_init_error", "error", err)
		return 1
	}
	mode := candrv.Mode{FD: cfg.fdMode, ListenOnly: cfg.listenOnly}
	if err := drv.Start(mode, cfg.nominalBps, cfg.dataBps); err != nil {
		l.Error("driver_start_error", "error", err)
		_ = drv.Stop()
		return 1
	}
	l.Info("driver_started", "backend", cfg.backend, "bitrate", cfg.nominalBps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	aw := candrv.NewAsyncWriter(ctx, drv, driverTxQueueSize, 0)
	recvCB := makeRecvCallback(aw, l)

	b, err := broker.Start(uint16(cfg.listenPort), transport.Tcp, recvCB, eventLevel)
	if err != nil {
		l.Error("broker_start_error", "error", err)
		aw.Close()
		_ = drv.Stop()
		return 1
	}
	l.Info("broker_listening", "addr", b.Addr().String())

	wg.Add(1)
	go func() {
		defer wg.Done()
		runBusRxLoop(ctx, drv, b, l)
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, cfg.listenPort)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", cfg.listenPort)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv = metrics.StartHTTP(cfg.metricsAddr)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())

	cancel()
	_ = b.Stop()
	aw.Close()
	drv.Signal()
	_ = drv.Stop()
	wg.Wait()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	return 0
}
