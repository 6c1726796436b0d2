package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/api"
	"github.com/dyike/stockdesk/internal/debug"
	"github.com/dyike/stockdesk/internal/mcpserver"
	"github.com/dyike/stockdesk/pkg/app"
)

// configManager opens the --config file, or the default one, seeding it
// with the loaded config when it does not exist.
func (s *session) configManager() (*config.Manager, error) {
	opts := []config.ManagerOption{
		config.WithInitialConfig(s.cfg),
		config.WithLogger(s.logger.Named("config")),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	return config.NewManager(opts...)
}

// runtime starts a hot-reloading engine over the config file. The
// returned func stops the watcher and releases shared resources.
func (s *session) runtime(ctx context.Context) (*app.Runtime, func(), error) {
	mgr, err := s.configManager()
	if err != nil {
		return nil, nil, err
	}

	shared := app.NewShared(s.cfg, s.logger)
	rt, err := app.NewRuntime(mgr, shared, app.WithLogger(s.logger.Named("runtime")))
	if err != nil {
		_ = shared.Close()
		return nil, nil, err
	}
	if err := rt.Watch(ctx); err != nil {
		s.logger.Warn("config hot reload disabled", zap.String("path", mgr.Path()), zap.Error(err))
	}

	janitor := app.NewJanitor(shared.Cache, s.logger.Named("janitor"))
	if err := janitor.Start(s.cfg.Cache.JanitorSpec); err != nil {
		s.logger.Warn("cache janitor disabled", zap.String("spec", s.cfg.Cache.JanitorSpec), zap.Error(err))
	}

	dbg := debug.NewEinoDebugger(s.cfg, s.logger.Named("eino"))
	if err := dbg.Initialize(ctx); err != nil {
		s.logger.Warn("eino debug server failed to start", zap.Error(err))
	}

	return rt, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		janitor.Stop(stopCtx)
		rt.Close()
		if err := shared.Close(); err != nil {
			s.logger.Warn("close shared resources", zap.Error(err))
		}
		_ = s.logger.Sync()
	}, nil
}

func newServeCmd(s *session) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, done, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			defer done()

			if addr == "" {
				addr = s.cfg.Server.Addr
			}
			var opts []api.HandlerOption
			if s.cfg.Server.Env == "prod" {
				gin.SetMode(gin.ReleaseMode)
			} else {
				opts = append(opts, api.WithConfigAPI(rt))
			}
			router := api.NewRouter(api.NewHandler(rt, s.cfg.RequestTimeout, s.logger.Named("http"), opts...))
			return serveHTTP(ctx, &http.Server{Addr: addr, Handler: router}, s.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (server.addr if omitted)")
	return cmd
}

func serveHTTP(ctx context.Context, srv *http.Server, l *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	l.Info("http server listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		l.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newMCPCmd(s *session) *cobra.Command {
	var transport, addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over the Model Context Protocol",
		Long: `Expose analyze_stock, backtest_strategy, calculate_risk and get_sentiment
as MCP tools. stdio suits editor and desktop clients; sse listens on --addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, done, err := s.runtime(ctx)
			if err != nil {
				return err
			}
			defer done()

			if addr == "" {
				addr = s.cfg.Server.MCPAddr
			}
			srv := mcpserver.New(rt, rt, s.cfg.RequestTimeout, s.logger.Named("mcp"))
			return srv.Serve(ctx, transport, addr)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", mcpserver.TransportStdio, "Transport: stdio or sse")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for sse (server.mcp_addr if omitted)")
	return cmd
}
