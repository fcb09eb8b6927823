package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
	if n := visualLen(in); n != len(want) {
		t.Fatalf("visualLen()=%d want=%d", n, len(want))
	}
}

func TestPrettyHandler_RemapsAndColors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("conn_id", "01J0").Info("http.request",
		"method", "get",
		"status", 404,
		"duration_ms", 12,
		"err", "boom now",
		"message_id", 42,
	)

	out := buf.String()
	for _, want := range []string{"lvl=[INFO]", "msg=http.request", "conn=01J0", "method=GET", "status=404", "duration=12ms", `err="boom now"`, "id=42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("color disabled but output has escapes: %q", out)
	}
}

func TestPrettyHandler_ColorsState(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Warn("ws.close", "state", "reconnecting")

	out := buf.String()
	if !strings.Contains(out, ansiYellow+"reconnecting"+ansiReset) {
		t.Fatalf("state not colored: %q", out)
	}
	if !strings.Contains(stripANSI(out), "lvl=[WARN]") {
		t.Fatalf("level tag missing: %q", out)
	}
}

func TestPrettyHandler_GroupsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))
	log.Debug("hidden")
	log.WithGroup("close").Info("ws.close", "code", 1006, "reason", "socket error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record must be filtered: %q", out)
	}
	if !strings.Contains(out, "close.code=1006") || !strings.Contains(out, `close.reason="socket error"`) {
		t.Fatalf("grouped attrs got=%q", out)
	}
}
