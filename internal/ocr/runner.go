package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// stderr of a failed extraction tool is logged capped, so one pathological
// PDF cannot flood the log
const stderrLogCap = 4 << 10

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	log := slog.Default().With(
		"tool", filepath.Base(name),
		"args", strings.Join(args, " "),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if err != nil {
		log.Error("extraction tool failed",
			"error", err,
			"stderr", truncate(stderr.String(), stderrLogCap),
		)
	} else {
		log.Debug("extraction tool finished",
			"stdout_bytes", stdout.Len(),
			"stderr_bytes", stderr.Len(),
		)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
