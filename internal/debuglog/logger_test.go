package debuglog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLimiterSuppressesRepeats(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(time.Second)
	l.now = func() time.Time { return now }

	if !l.Allow("Player1") {
		t.Fatalf("expected first line")
	}
	if l.Allow("Player1") {
		t.Fatalf("expected repeat to be suppressed")
	}
	if !l.Allow("Player2") {
		t.Fatalf("expected separate key to pass")
	}
	now = now.Add(2 * time.Second)
	if !l.Allow("Player1") {
		t.Fatalf("expected line after interval")
	}
}

func TestNewLevels(t *testing.T) {
	t.Setenv(envDebug, "")
	var buf bytes.Buffer
	log := New(&buf, false)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	log = New(&buf, true)
	log.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected debug line, got: %s", buf.String())
	}
}
