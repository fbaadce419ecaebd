// Package registry accumulates per-channel sample and text streams received
// during a transfer session, deriving a synthetic time axis for each numeric
// burst, and can snapshot the accumulated data to disk.
package registry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/visuvia/mctp-controller/internal/logging"
)

// Clock abstracts wall-clock time so tests can control it; production code
// uses realClock (time.Now, as seconds since the Unix epoch).
type Clock interface {
	Seconds() float64
}

type realClock struct{}

func (realClock) Seconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// DataChannel holds one channel's accumulated numeric and text streams.
//
// Invariant: len(XData) == len(YData) after every AppendData/AppendText call.
type DataChannel struct {
	RecvTime float64
	XData    []float64
	YData    []float64
	Text     string
}

// Registry owns the channel map keyed by channel id and the session's time
// reference. Writes happen only from the FSM goroutine; Snapshot takes a
// brief read lock so other goroutines (a chart renderer, the CLI) can read
// a consistent copy without racing the writer.
type Registry struct {
	mu           sync.RWMutex
	channels     map[uint8]*DataChannel
	startTimeRef float64
	clock        Clock
	outDir       string
}

// New creates an empty registry. outDir is the directory SaveData writes
// channel_<id>.{csv,txt} files into; an empty outDir means the process
// working directory.
func New(outDir string) *Registry {
	return &Registry{channels: make(map[uint8]*DataChannel), clock: realClock{}, outDir: outDir}
}

// WithClock overrides the registry's time source. Exposed for tests.
func (r *Registry) WithClock(c Clock) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
	return r
}

// AddChannel inserts (or overwrites) an empty channel for id.
func (r *Registry) AddChannel(id uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[id] = &DataChannel{}
	logging.L().Debug("registry_channel_added", "channel", id)
}

// SetTimeRef records the current wall-clock time as the session's time
// reference, called when a Request is sent (spec §4.2/§4.3).
func (r *Registry) SetTimeRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTimeRef = r.clock.Seconds()
}

// StartTimeRef returns the current time reference.
func (r *Registry) StartTimeRef() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTimeRef
}

// AppendData folds one Data frame's numeric channels into the registry,
// synthesizing a uniform intra-burst timestamp axis per channel (spec
// §4.3). The first sample of every burst gets timestamp == the channel's
// previous RecvTime, not "now" — a fast burst following a pause stretches
// its timestamps back across the pause. This is the protocol's only timing
// signal; it is not "fixed" without a wire change (spec §9).
func (r *Registry) AppendData(numericChannels map[uint8][]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Seconds() - r.startTimeRef
	for id, samples := range numericChannels {
		ch, ok := r.channels[id]
		if !ok {
			continue
		}
		periodTotal := now - ch.RecvTime
		perSample := 0.0
		if len(samples) > 0 {
			perSample = periodTotal / float64(len(samples))
		}
		for i := range samples {
			ch.XData = append(ch.XData, ch.RecvTime+perSample*float64(i))
		}
		ch.YData = append(ch.YData, samples...)
		ch.RecvTime = now
	}
}

// AppendText folds one Data frame's text channels into the registry.
func (r *Registry) AppendText(textChannels map[uint8]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Seconds() - r.startTimeRef
	for id, text := range textChannels {
		ch, ok := r.channels[id]
		if !ok {
			continue
		}
		ch.Text += text + "\n"
		ch.RecvTime = now
	}
}

// Snapshot returns a deep copy of the current channel map, safe for a
// reader to inspect without racing the FSM's writes.
func (r *Registry) Snapshot() map[uint8]DataChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint8]DataChannel, len(r.channels))
	for id, ch := range r.channels {
		out[id] = DataChannel{
			RecvTime: ch.RecvTime,
			XData:    append([]float64(nil), ch.XData...),
			YData:    append([]float64(nil), ch.YData...),
			Text:     ch.Text,
		}
	}
	return out
}

// ChannelIDs returns the sorted channel ids currently enrolled.
func (r *Registry) ChannelIDs() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint8, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SaveData writes each non-empty channel's samples to channel_<id>.csv
// (rows "x,y", no header) and each non-empty channel's text to
// channel_<id>.txt, overwriting existing files. A failure writing one
// channel's file is logged and does not prevent the rest from saving
// (spec §4.3 / §7).
func (r *Registry) SaveData() {
	snap := r.Snapshot()
	logging.L().Info("registry_save_start", "channels", len(snap))
	for id, ch := range snap {
		if len(ch.YData) == 0 {
			continue
		}
		if err := r.writeCSV(id, ch); err != nil {
			logging.L().Warn("registry_save_csv_failed", "channel", id, "error", err)
			continue
		}
		logging.L().Info("registry_save_csv_done", "channel", id, "samples", len(ch.YData))
	}
	for id, ch := range snap {
		if ch.Text == "" {
			continue
		}
		if err := r.writeText(id, ch); err != nil {
			logging.L().Warn("registry_save_text_failed", "channel", id, "error", err)
			continue
		}
		logging.L().Info("registry_save_text_done", "channel", id)
	}
}

func (r *Registry) writeCSV(id uint8, ch DataChannel) error {
	f, err := os.Create(r.path(fmt.Sprintf("channel_%d.csv", id)))
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	for i := range ch.XData {
		if err := w.Write([]string{
			formatFloat(ch.XData[i]),
			formatFloat(ch.YData[i]),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (r *Registry) writeText(id uint8, ch DataChannel) error {
	f, err := os.Create(r.path(fmt.Sprintf("channel_%d.txt", id)))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(ch.Text)
	return err
}

func (r *Registry) path(name string) string {
	if r.outDir == "" {
		return name
	}
	return filepath.Join(r.outDir, name)
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// ClearData resets every channel's streams and recv-time, leaving the
// channels themselves (and their enrollment) in place. The FSM calls it when
// a Request starts a new transfer, so each session begins with empty
// streams, and on session drop.
func (r *Registry) ClearData() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.channels {
		ch.XData = nil
		ch.YData = nil
		ch.Text = ""
		ch.RecvTime = 0
	}
}

// ClearChannels removes every channel and resets the time reference.
// Destroys enrollment entirely; only used when resetting the registry as a
// whole (e.g. before a fresh Sync).
func (r *Registry) ClearChannels() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[uint8]*DataChannel)
	r.startTimeRef = 0
}
