package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where session logs go.
type Options struct {
	// LogsDir receives one JSON log file per invocation.
	LogsDir string
	// Console, when non-nil, also receives human-readable output.
	Console io.Writer
	// Verbose lowers the console level from warn to debug.
	Verbose bool
}

var now = time.Now

// New creates a logger that writes JSON lines to a timestamped file inside
// the logs directory, teed to the console when requested. The returned closer
// should be closed when logging is no longer needed.
func New(opts Options) (*zap.Logger, io.Closer, error) {
	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure logs directory: %w", err)
	}

	filename := now().Format("20060102-150405") + ".log"
	filePath := filepath.Join(opts.LogsDir, filename)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(file), zapcore.DebugLevel),
	}

	if opts.Console != nil {
		level := zapcore.WarnLevel
		if opts.Verbose {
			level = zapcore.DebugLevel
		}
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.TimeKey = ""
		consoleEnc.CallerKey = ""
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.AddSync(opts.Console), level))
	}

	logger := zap.New(zapcore.NewTee(cores...)).With(zap.Int("pid", os.Getpid()))
	return logger, closer{logger: logger, file: file}, nil
}

type closer struct {
	logger *zap.Logger
	file   *os.File
}

func (c closer) Close() error {
	_ = c.logger.Sync()
	return c.file.Close()
}
