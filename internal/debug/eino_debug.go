// Package debug starts the eino visual debugger for the agent prompts.
package debug

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/devops"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/logger"
)

type EinoDebugger struct {
	enabled bool
	port    int
	logger  *zap.Logger
}

func NewEinoDebugger(cfg *config.Config, l *zap.Logger) *EinoDebugger {
	return &EinoDebugger{
		enabled: cfg.EinoDebugEnabled,
		port:    cfg.EinoDebugPort,
		logger:  logger.OrNop(l),
	}
}

// Initialize starts the devops server when enabled. It is a no-op
// otherwise.
func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.enabled {
		return nil
	}
	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("init eino debug plugin: %w", err)
	}
	d.logger.Info("eino debug server started", zap.String("url", d.URL()))
	return nil
}

func (d *EinoDebugger) IsEnabled() bool {
	return d.enabled
}

func (d *EinoDebugger) URL() string {
	if !d.enabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.port)
}
