package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/visuvia/mctp-controller/internal/fsm"
	"github.com/visuvia/mctp-controller/internal/observer"
	"github.com/visuvia/mctp-controller/internal/registry"
)

// runObserverLoop drains the observer queue and logs each event, the single
// concrete observer adapter this repository ships (spec SPEC_FULL §4.5) —
// a full GUI is out of scope; external GUIs consume the same queue.
func runObserverLoop(ctx context.Context, q *observer.Queue, l *slog.Logger) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, ev := range q.Drain() {
				logEvent(l, ev)
			}
		}
	}
}

func logEvent(l *slog.Logger, ev observer.Event) {
	switch ev.Kind {
	case observer.StatusFailed:
		l.Warn("observer_status_failed")
	case observer.StatusSyncing:
		l.Info("observer_status_syncing")
	case observer.StatusConnected:
		l.Info("observer_status_connected", "channels", ev.NChannels)
	case observer.AppendText:
		l.Info("observer_append_text", "channels", len(ev.Text))
	case observer.ChannelInfoUpdate:
		l.Debug("observer_channel_info_update", "channels", ev.ChannelIDs)
	case observer.ChannelInfoDraw:
		l.Debug("observer_channel_info_draw")
	}
}

// runCmdLoop implements spec §6's --cmd mode: read lines from stdin and
// dispatch sync/request/stop/drop/exit. Unknown commands print a
// diagnostic. Returns once "exit" is read or stdin closes.
func runCmdLoop(ctx context.Context, cancel context.CancelFunc, f *fsm.FSM, reg *registry.Registry, l *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("mctp-controller ready; commands: sync, request, stop, drop, exit")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "sync":
			submit(ctx, f, fsm.OrderOpenSync, l)
		case "request":
			submit(ctx, f, fsm.OrderRequest, l)
		case "stop":
			submit(ctx, f, fsm.OrderStop, l)
			reg.SaveData()
			reg.ClearData()
		case "drop":
			submit(ctx, f, fsm.OrderDrop, l)
		case "exit":
			cancel()
			return
		default:
			fmt.Printf("unrecognized command: %q\n", line)
		}
	}
}

func submit(ctx context.Context, f *fsm.FSM, kind fsm.OrderKind, l *slog.Logger) {
	if err := f.Submit(ctx, kind); err != nil {
		l.Warn("order_rejected", "order", kind, "error", err)
		fmt.Printf("order %s failed: %v\n", kind, err)
	}
}
