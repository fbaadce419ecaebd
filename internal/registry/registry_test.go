package registry

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeClock struct{ t float64 }

func (f *fakeClock) Seconds() float64 { return f.t }

func TestAppendDataSynthesizesTimestamps(t *testing.T) {
	clk := &fakeClock{t: 100}
	r := New("").WithClock(clk)
	r.AddChannel(0)
	r.SetTimeRef() // startTimeRef = 100, now-relative clock starts at 0

	clk.t = 102 // 2s elapsed, burst of 4 samples
	r.AppendData(map[uint8][]float64{0: {1, 2, 3, 4}})

	snap := r.Snapshot()
	ch := snap[0]
	if len(ch.XData) != 4 || len(ch.YData) != 4 {
		t.Fatalf("expected 4 samples each, got x=%d y=%d", len(ch.XData), len(ch.YData))
	}
	// First sample gets the channel's previous RecvTime (0), not "now" (2).
	if ch.XData[0] != 0 {
		t.Fatalf("expected first timestamp 0, got %v", ch.XData[0])
	}
	if ch.XData[3] <= ch.XData[0] {
		t.Fatalf("expected increasing timestamps, got %v", ch.XData)
	}
	if ch.RecvTime != 2 {
		t.Fatalf("expected RecvTime 2, got %v", ch.RecvTime)
	}
}

func TestAppendDataIgnoresUnknownChannel(t *testing.T) {
	clk := &fakeClock{t: 0}
	r := New("").WithClock(clk)
	r.AppendData(map[uint8][]float64{5: {1, 2}})
	if len(r.ChannelIDs()) != 0 {
		t.Fatalf("expected no channels created for unknown id, got %v", r.ChannelIDs())
	}
}

func TestLengthLawHoldsAcrossMultipleBursts(t *testing.T) {
	clk := &fakeClock{t: 0}
	r := New("").WithClock(clk)
	r.AddChannel(1)
	r.SetTimeRef()

	clk.t = 1
	r.AppendData(map[uint8][]float64{1: {10, 20}})
	clk.t = 2
	r.AppendData(map[uint8][]float64{1: {30}})

	snap := r.Snapshot()
	ch := snap[1]
	if len(ch.XData) != len(ch.YData) {
		t.Fatalf("length law violated: x=%d y=%d", len(ch.XData), len(ch.YData))
	}
	if len(ch.YData) != 3 {
		t.Fatalf("expected 3 total samples, got %d", len(ch.YData))
	}
}

func TestAppendTextAccumulates(t *testing.T) {
	clk := &fakeClock{t: 0}
	r := New("").WithClock(clk)
	r.AddChannel(2)
	r.SetTimeRef()
	r.AppendText(map[uint8]string{2: "hello"})
	r.AppendText(map[uint8]string{2: "world"})

	snap := r.Snapshot()
	if snap[2].Text != "hello\nworld\n" {
		t.Fatalf("unexpected accumulated text: %q", snap[2].Text)
	}
}

func TestClearDataKeepsChannelEnrollment(t *testing.T) {
	clk := &fakeClock{t: 0}
	r := New("").WithClock(clk)
	r.AddChannel(0)
	r.SetTimeRef()
	clk.t = 1
	r.AppendData(map[uint8][]float64{0: {1, 2}})

	r.ClearData()

	if len(r.ChannelIDs()) != 1 {
		t.Fatalf("expected channel 0 to remain enrolled, got %v", r.ChannelIDs())
	}
	snap := r.Snapshot()
	if len(snap[0].XData) != 0 || len(snap[0].YData) != 0 {
		t.Fatalf("expected cleared streams, got %v", snap[0])
	}
}

func TestClearChannelsRemovesEnrollment(t *testing.T) {
	clk := &fakeClock{t: 5}
	r := New("").WithClock(clk)
	r.AddChannel(0)
	r.SetTimeRef()

	r.ClearChannels()

	if len(r.ChannelIDs()) != 0 {
		t.Fatalf("expected no channels after ClearChannels, got %v", r.ChannelIDs())
	}
	if r.StartTimeRef() != 0 {
		t.Fatalf("expected time reference reset to 0, got %v", r.StartTimeRef())
	}
}

func TestSaveDataWritesOnlyNonEmptyChannels(t *testing.T) {
	dir := t.TempDir()
	clk := &fakeClock{t: 0}
	r := New(dir).WithClock(clk)
	r.AddChannel(0)
	r.AddChannel(1)
	r.SetTimeRef()
	clk.t = 1
	r.AppendData(map[uint8][]float64{0: {1, 2, 3}})

	r.SaveData()

	if _, err := os.Stat(filepath.Join(dir, "channel_0.csv")); err != nil {
		t.Fatalf("expected channel_0.csv to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "channel_1.csv")); err == nil {
		t.Fatal("expected channel_1.csv to not exist (empty channel)")
	}
}
