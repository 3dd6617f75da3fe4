package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestParseOutput(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"3.456000\n", 3.456, true},
		{"  12\n", 12, true},
		{"N/A\n", 0, false},
		{"", 0, false},
		{"-1", 0, false},
		{"NaN\n", 0, false},
		{"inf", 0, false},
		{"-Inf", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseOutput([]byte(tc.in))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseOutput(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDurationFailureSentinel(t *testing.T) {
	p := NewFFProbe(filepath.Join(t.TempDir(), "no-such-ffprobe"), nil)
	if got := p.Duration(context.Background(), "whatever.ogg"); got != Failed {
		t.Fatalf("Duration() = %v, want %v", got, Failed)
	}
}

func TestDurationFromScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	script := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 4.25\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	p := NewFFProbe(script, nil)
	if got := p.Duration(context.Background(), "clip.ogg"); got != 4.25 {
		t.Fatalf("Duration() = %v, want 4.25", got)
	}

	failing := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(failing, []byte("#!/bin/sh\necho boom >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if got := NewFFProbe(failing, nil).Duration(context.Background(), "clip.ogg"); got != Failed {
		t.Fatalf("Duration() with failing tool = %v, want %v", got, Failed)
	}
}
