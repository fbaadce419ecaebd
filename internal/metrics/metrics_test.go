package metrics

import "testing"

func TestSnapReflectsIncrements(t *testing.T) {
	before := Snap()
	IncFramesReceived(10)
	IncSyncRetry()
	IncStopRetry()
	IncDropRetry()
	IncError(ErrSyncTimeout)

	after := Snap()
	if after.FramesReceived != before.FramesReceived+1 {
		t.Fatalf("expected frames received to increment by 1, got %d -> %d", before.FramesReceived, after.FramesReceived)
	}
	if after.BytesReceived != before.BytesReceived+10 {
		t.Fatalf("expected bytes received to increment by 10, got %d -> %d", before.BytesReceived, after.BytesReceived)
	}
	if after.SyncRetries != before.SyncRetries+1 {
		t.Fatalf("expected sync retries to increment by 1")
	}
	if after.StopRetries != before.StopRetries+1 {
		t.Fatalf("expected stop retries to increment by 1")
	}
	if after.DropRetries != before.DropRetries+1 {
		t.Fatalf("expected drop retries to increment by 1")
	}
	if after.Errors != before.Errors+1 {
		t.Fatalf("expected errors to increment by 1")
	}
}

func TestReadinessDefaultsToReadyWithoutFunc(t *testing.T) {
	readinessMu.Lock()
	readinessFn = nil
	readinessMu.Unlock()
	if !IsReady() {
		t.Fatal("expected IsReady to default to true when no readiness function is registered")
	}
}

func TestReadinessUsesRegisteredFunc(t *testing.T) {
	SetReadinessFunc(func() bool { return false })
	defer SetReadinessFunc(nil)
	if IsReady() {
		t.Fatal("expected IsReady to reflect the registered function")
	}
}
