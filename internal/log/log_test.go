package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" Warn ":  LevelWarn,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFilteringAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
	})

	Info("hidden")
	Warn("shown", "kind", "BIRD_FLYBY", "text", "hello there")
	Error("failed", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at WARN level: %q", out)
	}
	if !strings.Contains(out, `[WARN] shown kind=BIRD_FLYBY text="hello there"`) {
		t.Errorf("unexpected warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] failed err=boom") {
		t.Errorf("unexpected error line: %q", out)
	}
}
