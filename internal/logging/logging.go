// Package logging builds the zap logger used by the authcore CLI and by hosts
// that do not supply their own.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures New.
type Config struct {
	Level  string
	Format string
	// Sampling keeps the first SamplingInitial entries per message each
	// second, then every SamplingThereafter-th. Zero disables sampling.
	SamplingInitial    int
	SamplingThereafter int
	IncludeCaller      bool
}

// New builds a production logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = normalizeFormat(cfg.Format)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.Sampling = nil

	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var opts []zap.Option
	if !cfg.IncludeCaller {
		opts = append(opts, zap.WithCaller(false))
	}
	if cfg.SamplingInitial > 0 {
		thereafter := cfg.SamplingThereafter
		if thereafter <= 0 {
			thereafter = 100
		}
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewSamplerWithOptions(core, time.Second, cfg.SamplingInitial, thereafter)
		}))
	}
	return zapCfg.Build(opts...)
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}
