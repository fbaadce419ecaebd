package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/visuvia/mctp-controller/internal/fsm"
	"github.com/visuvia/mctp-controller/internal/metrics"
	"github.com/visuvia/mctp-controller/internal/observer"
	"github.com/visuvia/mctp-controller/internal/registry"
	"github.com/visuvia/mctp-controller/internal/transport"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, mdns.go, metrics_logger.go, cli.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("mctp-controller %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	t := transport.New()
	if err := t.Open(cfg.port, cfg.baud, cfg.readTimeout); err != nil {
		l.Error("transport_open_failed", "port", cfg.port, "error", err)
		os.Exit(1)
	}
	defer t.Close()

	reg := registry.New(cfg.outDir)
	queue := observer.NewQueue()
	f := fsm.New(t, reg, queue, fsm.WithLogger(l))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runObserverLoop(ctx, queue, l)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error("fsm_run_error", "error", err)
			cancel()
		}
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	var metricsPort int
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		metricsPort = portOf(cfg.metricsAddr)
	}

	if cfg.mdnsEnable && metricsPort != 0 {
		cleanupMDNS, err := startMDNS(ctx, cfg, metricsPort)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", metricsPort)
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}
	}

	if cfg.cmd {
		go func() {
			runCmdLoop(ctx, cancel, f, reg, l)
			cancel()
		}()
	} else {
		l.Info("gui_mode_notice", "msg", "no bundled GUI frontend in this repository; drive the FSM and observer queue from an external process")
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		l.Info("shutdown_context_done")
	}
	cancel()
	wg.Wait()
	reg.SaveData()
}

func portOf(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, err := strconv.Atoi(p); err == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
