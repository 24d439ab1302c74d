package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h)

	log.Info("http.request",
		"method", "get",
		"path", "/api/messages/conv_7_42",
		"status", 200,
		"remote", "127.0.0.1:54321",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"method=GET",
		"path=/api/messages/conv_7_42",
		"status=200",
		"remote=127.0.0.1:54321",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("output missing %q: %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but output has ANSI: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.Warn("delivery.drop", "reason", "queue full")
	if !strings.Contains(buf.String(), `reason="queue full"`) {
		t.Fatalf("value with spaces not quoted: %q", buf.String())
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled under warn floor")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled under warn floor")
	}
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log = log.With("conn_id", "abc").WithGroup("ws")

	log.Info("event", "type", "message_send", "elapsed", 30*time.Millisecond)

	line := buf.String()
	if !strings.Contains(line, "conn_id=abc") {
		t.Fatalf("bound attr missing: %q", line)
	}
	if !strings.Contains(line, "ws.type=message_send") {
		t.Fatalf("group prefix missing: %q", line)
	}
	if !strings.Contains(line, "ws.elapsed=30ms") {
		t.Fatalf("duration rendering wrong: %q", line)
	}
}
