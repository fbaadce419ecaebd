package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevelRecognizesKnownValues(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Info("hello", "k", "v")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if decoded["msg"] != "hello" || decoded["k"] != "v" {
		t.Fatalf("unexpected JSON fields: %v", decoded)
	}
}

func TestNewTextFormatDefault(t *testing.T) {
	var buf bytes.Buffer
	l := New("text", slog.LevelInfo, &buf)
	l.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text handler output, got %q", buf.String())
	}
}

func TestSetAndLReturnOverriddenLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New("text", slog.LevelInfo, &buf)
	Set(l)
	L().Info("marker")
	if !strings.Contains(buf.String(), "marker") {
		t.Fatalf("expected global logger to be overridden, got %q", buf.String())
	}
}

func TestForComponentAttachesAttribute(t *testing.T) {
	var buf bytes.Buffer
	Set(New("text", slog.LevelInfo, &buf))
	ForComponent("fsm").Info("tick")
	if !strings.Contains(buf.String(), "component=fsm") {
		t.Fatalf("expected component attribute in output, got %q", buf.String())
	}
}
