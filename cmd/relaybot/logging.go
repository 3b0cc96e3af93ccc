package main

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/pkg/robot"
)

// logFile receives logs while a full screen view owns the terminal.
const logFile = "relaybot.log"

// newLogger logs to path, or stderr when path is empty.
func newLogger(path string) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !opts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	if path != "" {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l.Sugar(), nil
}

// loadConfig reads the configuration file. A missing file is fine when
// fallback is set; the defaults are used.
func loadConfig(fallback bool) (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, fs.ErrNotExist) && fallback:
		return robot.DefaultConfig(), nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("no configuration at %s, run 'relaybot setup' first", opts.Config)
	}
	return nil, err
}
