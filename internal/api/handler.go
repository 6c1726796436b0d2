// Package api serves analysis, risk and live config over gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/logger"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/service"
)

// Service is the slice of service.Service the HTTP layer calls.
type Service interface {
	Analyze(ctx context.Context, p service.AnalyzeParams) (*service.AnalyzeResult, error)
	Risk(p risk.Request) (*risk.Assessment, error)
}

// Configurator reads and patches the live configuration.
type Configurator interface {
	Config() *config.Config
	ApplyConfigPatch(patch map[string]any) (*config.Config, error)
}

type Handler struct {
	svc     Service
	cfg     Configurator
	timeout time.Duration
	logger  *zap.Logger
}

type HandlerOption func(*Handler)

// WithConfigAPI exposes GET and PATCH /api/config.
func WithConfigAPI(c Configurator) HandlerOption {
	return func(h *Handler) { h.cfg = c }
}

// NewHandler builds the handler. timeout bounds one analysis; zero leaves
// it to the caller's context.
func NewHandler(svc Service, timeout time.Duration, l *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, timeout: timeout, logger: logger.OrNop(l)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	g := r.Group("/api")
	g.POST("/analyze", h.analyze)
	g.POST("/risk", h.risk)
	if h.cfg != nil {
		g.GET("/config", h.showConfig)
		g.PATCH("/config", h.patchConfig)
	}
}

// NewRouter returns a gin engine with recovery, access logging and every
// route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(h.logger))
	h.Register(r)
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) analyze(c *gin.Context) {
	var p service.AnalyzeParams
	if err := c.ShouldBindJSON(&p); err != nil {
		Error(c, errs.Validation("invalid request body: %v", err))
		return
	}
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res, err := h.svc.Analyze(ctx, p)
	if err != nil {
		if errs.Is(err, errs.KindInternal) {
			h.logger.Error("analyze failed", zap.String("ticker", p.Ticker), zap.Error(err))
		}
		Error(c, err)
		return
	}
	Ok(c, res)
}

func (h *Handler) risk(c *gin.Context) {
	var req risk.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, errs.Validation("invalid request body: %v", err))
		return
	}
	res, err := h.svc.Risk(req)
	if err != nil {
		Error(c, err)
		return
	}
	Ok(c, res)
}

func (h *Handler) showConfig(c *gin.Context) {
	Ok(c, h.cfg.Config().Redacted())
}

// patchConfig takes a JSON merge patch; the engine is rebuilt before the
// change is saved. Secrets sent back as "***" keep their value.
func (h *Handler) patchConfig(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		Error(c, errs.Validation("invalid request body: %v", err))
		return
	}
	cfg, err := h.cfg.ApplyConfigPatch(patch)
	if err != nil {
		if errs.Is(err, errs.KindInternal) {
			h.logger.Error("config patch failed", zap.Error(err))
		}
		Error(c, err)
		return
	}
	h.logger.Info("config patched", zap.Int("keys", len(patch)))
	Ok(c, cfg.Redacted())
}

// AccessLog logs one line per request.
func AccessLog(l *zap.Logger) gin.HandlerFunc {
	l = logger.OrNop(l)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		}
		switch {
		case status >= 500:
			l.Error("http request", fields...)
		case status >= 400:
			l.Warn("http request", fields...)
		default:
			l.Info("http request", fields...)
		}
	}
}
