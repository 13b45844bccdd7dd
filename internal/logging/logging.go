package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// New builds the process logger. Output always goes to stderr; when dir is
// non-empty a log file is appended under it as well.
func New(level, dir string) (hclog.Logger, error) {
	var output io.Writer = os.Stderr

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(dir, "snapdiff.log"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = io.MultiWriter(os.Stderr, file)
	}

	logLevel := hclog.LevelFromString(level)
	if logLevel == hclog.NoLevel {
		logLevel = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "snapdiff",
		Level:  logLevel,
		Output: output,
	}), nil
}
