// Package mcpserver exposes the analysis use cases as MCP tools over
// stdio or SSE.
//
// This is a composition root: it registers tools and resources and
// forwards every call to the service layer. No business logic lives here.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Service is the slice of service.Service the tools call.
type Service interface {
	Analyze(ctx context.Context, p service.AnalyzeParams) (*service.AnalyzeResult, error)
	Backtest(ctx context.Context, p service.BacktestParams) (*service.BacktestResult, error)
	Risk(p risk.Request) (*risk.Assessment, error)
	Sentiment(ctx context.Context, p service.SentimentParams) (*sentiment.Report, error)
}

// Introspection feeds the read-only resources.
type Introspection interface {
	Config() *config.Config
	Stats() dataflows.Stats
	ResolutionTable() map[string][]string
}

type Server struct {
	mcp     *server.MCPServer
	svc     Service
	info    Introspection
	timeout time.Duration
	logger  *zap.Logger
}

// New builds the MCP server with every tool and resource registered.
// timeout bounds one analyze_stock call.
func New(svc Service, info Introspection, timeout time.Duration, l *zap.Logger) *Server {
	s := &Server{svc: svc, info: info, timeout: timeout, logger: logger.OrNop(l)}
	s.mcp = server.NewMCPServer(
		"stockdesk",
		Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.registerTools()
	s.registerResources()
	return s
}

const instructions = `stockdesk runs a multi-agent equity analysis pipeline.
Use analyze_stock for a BUY/SELL/HOLD recommendation, backtest_strategy to replay it
over a date range, calculate_risk to size a position and get_sentiment for social mood.`

func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve blocks on the chosen transport until ctx is done or the transport
// fails.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch strings.ToLower(transport) {
	case "", TransportStdio:
		s.logger.Info("mcp server listening", zap.String("transport", TransportStdio))
		return server.ServeStdio(s.mcp)
	case TransportSSE:
		sse := server.NewSSEServer(s.mcp, server.WithBaseURL(baseURL(addr)))
		errCh := make(chan error, 1)
		go func() { errCh <- sse.Start(addr) }()
		s.logger.Info("mcp server listening", zap.String("transport", TransportSSE), zap.String("addr", addr))
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return sse.Shutdown(shutdownCtx)
		}
	default:
		return fmt.Errorf("unknown transport %q, want stdio or sse", transport)
	}
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func (s *Server) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
