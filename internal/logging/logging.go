// Package logging builds the runtime's zap.Logger. All components log
// through the instance this package constructs; no package under internal/
// calls fmt.Println or the standard log package (the CLI in cmd/nxclaw
// prints command output with fmt).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's verbosity, encoding, and sink.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or a file path
}

// New builds a *zap.Logger from cfg. An unset or unparseable Level falls
// back to info, an unset Format to json and an unset OutputPath to stdout;
// a Format other than json or console makes it return an error.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         nonEmpty(cfg.Format, "json"),
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zcfg.Build()
}

// Nop returns a logger that discards everything, for tests that don't
// assert on log output.
func Nop() *zap.Logger { return zap.NewNop() }

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
