// Package probe measures the duration of audio artifacts with ffprobe.
package probe

import (
	"context"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Failed is the duration reported when the probe cannot measure a file.
const Failed = 0.0

// FFProbe shells out to ffprobe for the container duration.
type FFProbe struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewFFProbe returns a probe using the binary at path ("ffprobe" if empty).
func NewFFProbe(path string, logger *slog.Logger) *FFProbe {
	if strings.TrimSpace(path) == "" {
		path = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFProbe{Path: path, Timeout: 30 * time.Second, Logger: logger}
}

// Duration returns the length of the file at path in seconds, or Failed if
// ffprobe exits non-zero or prints something unparsable.
func (p *FFProbe) Duration(ctx context.Context, path string) float64 {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		p.Logger.Warn("duration probe failed", "path", path, "error", err, "output", strings.TrimSpace(string(out)))
		return Failed
	}
	d, ok := ParseOutput(out)
	if !ok {
		p.Logger.Warn("duration probe output unparsable", "path", path, "output", strings.TrimSpace(string(out)))
		return Failed
	}
	return d
}

// ParseOutput reads the duration ffprobe prints with nokey=1.
func ParseOutput(out []byte) (float64, bool) {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return 0, false
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, false
	}
	return d, true
}
