package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/consts"
	"github.com/dyike/stockdesk/internal/dataflows"
	"github.com/dyike/stockdesk/internal/errs"
	"github.com/dyike/stockdesk/internal/graph"
	"github.com/dyike/stockdesk/internal/models"
	"github.com/dyike/stockdesk/internal/sentiment"
	"github.com/dyike/stockdesk/internal/service"
	pkg "github.com/dyike/stockdesk/pkg/dataflows"
)

type holdAnalyzer struct{ err error }

func (h holdAnalyzer) Run(_ context.Context, req graph.Request) (*models.AnalysisState, error) {
	if h.err != nil {
		return nil, h.err
	}
	st := models.NewAnalysisState(req.Ticker, req.TradeDate, req.Analysts)
	st.FinalTradeDecision = "FINAL TRANSACTION PROPOSAL: **HOLD**"
	st.Decision = &models.Decision{Action: consts.DecisionHold, Confidence: 0.5}
	return st, nil
}

type weekdayBars struct{}

func (weekdayBars) GetBars(_ context.Context, _ string, start, end time.Time) ([]pkg.Bar, error) {
	var out []pkg.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, pkg.Bar{Date: d, Close: 10, AdjClose: 10})
		}
	}
	return out, nil
}

type echoSentiment struct{}

func (echoSentiment) Fetch(_ context.Context, req sentiment.Request) (*sentiment.Report, error) {
	return &sentiment.Report{Ticker: req.Ticker, TimeRange: req.TimeRange, Sources: req.Sources}, nil
}

type info struct{ cfg *config.Config }

func (i info) Config() *config.Config { return i.cfg }
func (i info) Stats() dataflows.Stats {
	return dataflows.Stats{VendorCalls: 7}
}
func (i info) ResolutionTable() map[string][]string {
	return map[string][]string{"get_stock_data": {"yfinance", "alpha_vantage"}}
}

func newServer(t *testing.T, a holdAnalyzer) *Server {
	t.Helper()
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.OpenAIAPIKey = "sk-secret-value"
	svc := service.New(cfg, a, weekdayBars{}, echoSentiment{})
	return New(svc, info{cfg: cfg}, time.Second, nil)
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, s *Server, raw string) rpcResponse {
	t.Helper()
	msg := s.MCP().HandleMessage(context.Background(), json.RawMessage(raw))
	require.NotNil(t, msg)
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) (text string, isError bool) {
	t.Helper()
	params, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	require.NoError(t, err)
	resp := call(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":`+string(params)+`}`)
	require.Nil(t, resp.Error)
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.NotEmpty(t, result.Content)
	return result.Content[0].Text, result.IsError
}

func initialize(t *testing.T, s *Server) {
	t.Helper()
	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)
	require.Nil(t, resp.Error)
}

func TestToolsList(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)
	resp := call(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolAnalyzeStock, ToolBacktestStrategy, ToolCalculateRisk, ToolGetSentiment}, names)
}

func TestProtocolErrors(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	assert.Equal(t, -32700, call(t, s, `{"jsonrpc":`).Error.Code)
	initialize(t, s)
	assert.Equal(t, -32601, call(t, s, `{"jsonrpc":"2.0","id":3,"method":"stocks/buy"}`).Error.Code)
	assert.Nil(t, call(t, s, `{"jsonrpc":"2.0","id":4,"method":"ping"}`).Error)
}

func TestAnalyzeStockTool(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)
	text, isErr := callTool(t, s, ToolAnalyzeStock, map[string]any{"ticker": "AAPL", "analysts": []string{"market"}})
	require.False(t, isErr, text)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, "HOLD", got["finalDecision"])
	assert.Equal(t, []any{"market"}, got["selected_analysts"])
}

func TestValidationIsToolError(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)
	text, isErr := callTool(t, s, ToolAnalyzeStock, map[string]any{"ticker": "lower1"})
	require.True(t, isErr)
	assert.Contains(t, text, `"kind":"validation"`)

	text, isErr = callTool(t, s, ToolGetSentiment, map[string]any{"ticker": "AAPL", "time_range": "2d"})
	require.True(t, isErr)
	assert.Contains(t, text, `"kind":"validation"`)
}

func TestInternalErrorFailsCall(t *testing.T) {
	s := newServer(t, holdAnalyzer{err: errs.Internal("state corrupted")})
	initialize(t, s)
	resp := call(t, s, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"analyze_stock","arguments":{"ticker":"AAPL"}}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32603, resp.Error.Code)
}

func TestCalculateRiskTool(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)
	text, isErr := callTool(t, s, ToolCalculateRisk, map[string]any{
		"ticker": "AAPL", "account_value": 10000, "risk_per_trade_pct": 1, "current_price": 100,
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"stop_loss_price":98`)
	assert.Contains(t, text, `"warnings":[]`)
}

func TestBacktestTool(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)
	text, isErr := callTool(t, s, ToolBacktestStrategy, map[string]any{
		"ticker": "AAPL", "start_date": "2024-01-01", "end_date": "2024-01-31",
		"strategy_config": map[string]any{"initial_balance": 20000},
	})
	require.False(t, isErr, text)
	var got struct {
		Performance struct {
			FinalBalance float64 `json:"final_balance"`
			TotalTrades  int     `json:"total_trades"`
		} `json:"performance"`
		EquityCurve []any `json:"equity_curve"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	assert.Equal(t, 20000.0, got.Performance.FinalBalance)
	assert.Zero(t, got.Performance.TotalTrades)
	assert.Len(t, got.EquityCurve, 23)
}

func TestSentimentTool(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)
	text, isErr := callTool(t, s, ToolGetSentiment, map[string]any{"ticker": "tsla", "sources": []string{"reddit"}})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"ticker":"TSLA"`)
	assert.Contains(t, text, `"time_range":"24h"`)
}

func TestResources(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	initialize(t, s)

	resp := call(t, s, `{"jsonrpc":"2.0","id":6,"method":"resources/list"}`)
	require.Nil(t, resp.Error)
	for _, uri := range []string{ResourceConfig, ResourceCacheStats, ResourceVendors} {
		assert.Contains(t, string(resp.Result), uri)
	}

	resp = call(t, s, `{"jsonrpc":"2.0","id":7,"method":"resources/read","params":{"uri":"stockdesk://config"}}`)
	require.Nil(t, resp.Error)
	assert.NotContains(t, string(resp.Result), "sk-secret-value")

	resp = call(t, s, `{"jsonrpc":"2.0","id":8,"method":"resources/read","params":{"uri":"stockdesk://vendors"}}`)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "alpha_vantage")
}

func TestUnknownTransport(t *testing.T) {
	s := newServer(t, holdAnalyzer{})
	assert.Error(t, s.Serve(context.Background(), "carrier-pigeon", ""))
}
