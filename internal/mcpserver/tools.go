package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/risk"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
)

const (
	ToolAnalyzeStock     = "analyze_stock"
	ToolBacktestStrategy = "backtest_strategy"
	ToolCalculateRisk    = "calculate_risk"
	ToolGetSentiment     = "get_sentiment"
)

func stringItems(values []string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolAnalyzeStock,
		mcp.WithDescription("Run the analyst team, research debate, trader and risk committee for one ticker and return the full analysis with a BUY/SELL/HOLD recommendation."),
		mcp.WithString("ticker", mcp.Required(), mcp.Description("US ticker, 1-5 letters")),
		mcp.WithArray("analysts", mcp.Description("Subset of market, fundamentals, news, social. Omit for all."), mcp.Items(stringItems(consts.AnalystOrder))),
		mcp.WithString("trade_date", mcp.Description("Analysis date, YYYY-MM-DD. Defaults to today.")),
		mcp.WithObject("config", mcp.Description("Per-request overrides"), mcp.Properties(map[string]any{
			"maxDebateRounds": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			"maxRiskRounds":   map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			"deepThinkModel":  map[string]any{"type": "string"},
			"quickThinkModel": map[string]any{"type": "string"},
		})),
	), s.handleAnalyze)

	s.mcp.AddTool(mcp.NewTool(ToolBacktestStrategy,
		mcp.WithDescription("Replay the analysis pipeline day by day over a date range and report performance, trades and the equity curve."),
		mcp.WithString("ticker", mcp.Required(), mcp.Description("US ticker, 1-5 letters")),
		mcp.WithString("start_date", mcp.Required(), mcp.Description("YYYY-MM-DD")),
		mcp.WithString("end_date", mcp.Required(), mcp.Description("YYYY-MM-DD")),
		mcp.WithObject("strategy_config", mcp.Description("Account and sizing settings"), mcp.Properties(map[string]any{
			"initial_balance":        map[string]any{"type": "number", "exclusiveMinimum": 0},
			"commission_rate":        map[string]any{"type": "number", "minimum": 0},
			"slippage":               map[string]any{"type": "number", "minimum": 0},
			"risk_per_trade_pct":     map[string]any{"type": "number"},
			"max_position_size_pct":  map[string]any{"type": "number"},
			"position_sizing_method": map[string]any{"type": "string", "enum": []string{"fixed_percentage", "risk_based", "equal_weight"}},
			"analysts":               map[string]any{"type": "array", "items": stringItems(consts.AnalystOrder)},
		})),
		mcp.WithNumber("windows", mcp.Description("Run a walk-forward with this many windows instead of a single pass"), mcp.Min(0)),
	), s.handleBacktest)

	s.mcp.AddTool(mcp.NewTool(ToolCalculateRisk,
		mcp.WithDescription("Size a position from the account's risk budget and report risk/reward."),
		mcp.WithString("ticker", mcp.Required()),
		mcp.WithNumber("account_value", mcp.Required(), mcp.Description("Account value in dollars")),
		mcp.WithNumber("risk_per_trade_pct", mcp.Required(), mcp.Description("Percent of the account to risk, e.g. 1 for 1%")),
		mcp.WithNumber("current_price", mcp.Required()),
		mcp.WithNumber("stop_loss_price", mcp.Description("Defaults to 2% below the current price")),
		mcp.WithNumber("target_price"),
	), s.handleRisk)

	s.mcp.AddTool(mcp.NewTool(ToolGetSentiment,
		mcp.WithDescription("Collect and score recent social posts about a ticker."),
		mcp.WithString("ticker", mcp.Required()),
		mcp.WithArray("sources", mcp.Description("Subset of twitter, stocktwits, reddit. Omit for all."), mcp.Items(stringItems(sentiment.AllSources))),
		mcp.WithString("time_range", mcp.Enum("1h", "4h", "24h", "7d"), mcp.DefaultString("24h")),
	), s.handleSentiment)
}

func bind(req mcp.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return errs.Validation("arguments are not JSON: %v", err)
	}
	if string(raw) == "null" {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Validation("invalid arguments: %v", err)
	}
	return nil
}

// reply turns a use-case outcome into a tool result. Caller errors come
// back as an error result carrying the kind; anything else fails the
// JSON-RPC call as an internal error.
func (s *Server) reply(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		kind := errs.KindOf(err)
		if kind == errs.KindInternal {
			s.logger.Error("tool failed", zap.String("tool", tool), zap.Error(err))
			return nil, err
		}
		msg := err.Error()
		var e *errs.Error
		if errors.As(err, &e) {
			msg = e.Message
		}
		body, _ := json.Marshal(map[string]any{"error": map[string]any{"kind": kind, "message": msg}})
		return mcp.NewToolResultError(string(body)), nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "encode result")
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p service.AnalyzeParams
	if err := bind(req, &p); err != nil {
		return s.reply(ToolAnalyzeStock, nil, err)
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	res, err := s.svc.Analyze(ctx, p)
	return s.reply(ToolAnalyzeStock, res, err)
}

func (s *Server) handleBacktest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p service.BacktestParams
	if err := bind(req, &p); err != nil {
		return s.reply(ToolBacktestStrategy, nil, err)
	}
	res, err := s.svc.Backtest(ctx, p)
	if err != nil && res != nil && errs.Is(err, errs.KindDeadline) {
		// a cut-short backtest still reports what it simulated
		s.logger.Warn("backtest cut short", zap.String("ticker", p.Ticker), zap.Error(err))
		err = nil
	}
	return s.reply(ToolBacktestStrategy, res, err)
}

func (s *Server) handleRisk(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p risk.Request
	if err := bind(req, &p); err != nil {
		return s.reply(ToolCalculateRisk, nil, err)
	}
	res, err := s.svc.Risk(p)
	return s.reply(ToolCalculateRisk, res, err)
}

func (s *Server) handleSentiment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var p service.SentimentParams
	if err := bind(req, &p); err != nil {
		return s.reply(ToolGetSentiment, nil, err)
	}
	res, err := s.svc.Sentiment(ctx, p)
	return s.reply(ToolGetSentiment, res, err)
}
