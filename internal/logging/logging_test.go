package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewJSONAndSet(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	prev := L()
	Set(l)
	defer Set(prev)
	L().Info("msg_enqueued", "id", 1)
	if !strings.Contains(buf.String(), `"msg":"msg_enqueued"`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	Set(nil) // ignored
	if L() != l {
		t.Fatalf("Set(nil) must not replace logger")
	}
}
