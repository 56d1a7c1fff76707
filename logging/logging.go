// Package logging creates named zap loggers on top of the IPFS go-log
// registry, so every subsystem's level can be set by name.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

func init() {
	envfmt := strings.TrimSpace(strings.ToLower(os.Getenv("GOLOG_LOG_FMT")))

	cfg := zap.NewProductionEncoderConfig()
	cfg.MessageKey = "msg"
	cfg.LevelKey = "lvl"
	cfg.TimeKey = "ts"
	cfg.NameKey = "log"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339Nano))
	}

	var enc zapcore.Encoder

	// JSON when stderr is not a terminal, e.g. when a scripting host loads
	// the shared library and captures its output.
	if !term.IsTerminal(int(os.Stderr.Fd())) || envfmt == "json" {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	log.SetPrimaryCore(zapcore.NewCore(enc, os.Stderr, zap.NewAtomicLevelAt(zapcore.DebugLevel)))
}

// New creates a new named logger with the specified level.
// If logger was created before it will just set the level.
func New(subsystem, level string) *zap.Logger {
	l := log.Logger(subsystem).Desugar()

	if err := log.SetLogLevel(subsystem, level); err != nil {
		panic(fmt.Errorf("%s %s %w", subsystem, level, err))
	}

	return l
}

// SetLogLevel sets the level on a logger created by [New]. The name "*"
// sets every logger.
func SetLogLevel(subsystem, level string) error {
	return log.SetLogLevel(subsystem, level)
}
