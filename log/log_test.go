package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalHandlerModuleGating(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))
	defer SetDefault(NewLogger(DiscardHandler()))

	EnableModule(DispatchMonitoring)
	DisableModule(FastPathMonitoring)

	Trace(DispatchMonitoring, "cache hit", "pc", 0x1000)
	Trace(FastPathMonitoring, "fastpath hit", "key", 7)

	out := buf.String()
	if !strings.Contains(out, "cache hit") {
		t.Errorf("enabled module output missing: %q", out)
	}
	if strings.Contains(out, "fastpath hit") {
		t.Errorf("disabled module leaked output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("debug"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatal("expected error for bogus level")
	}
}
