// Package storelog builds the *zap.SugaredLogger that the pager, engine
// and reaper take as an option or constructor argument, the way server.InitServer configures
// zap for the whole process.
package storelog

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a development or production zap logger depending on debug,
// and returns its sugared form.
func New(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error

	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stdout"}
		logger, err = cfg.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("storelog: failed to initialize logger: %w", err)
	}

	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests and embedders
// that don't want engine log output.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
