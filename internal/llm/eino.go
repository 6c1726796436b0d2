package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/config"
	"github.com/dyike/stockdesk/internal/logger"
)

type chain = compose.Runnable[[]*schema.Message, *schema.Message]

// EinoGenerator compiles one chat-model chain per model id on first use.
type EinoGenerator struct {
	provider  string
	apiKey    string
	baseURL   string
	maxTokens int
	logger    *zap.Logger
	handler   callbacks.Handler

	mu     sync.Mutex
	chains map[string]chain
}

func NewEinoGenerator(cfg *config.Config, l *zap.Logger) (*EinoGenerator, error) {
	provider := strings.ToLower(cfg.LLMProvider)
	if provider == "" {
		provider = "deepseek"
	}
	key := cfg.DeepSeekAPIKey
	if provider == "openai" {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		return nil, fmt.Errorf("llm provider %s: api key is not configured", provider)
	}
	l = logger.OrNop(l)
	g := &EinoGenerator{
		provider:  provider,
		apiKey:    key,
		baseURL:   cfg.BackendURL,
		maxTokens: cfg.MaxTokens,
		logger:    l,
		chains:    map[string]chain{},
	}
	if cfg.Debug {
		g.handler = NewLogCallback(l)
	}
	return g, nil
}

func (g *EinoGenerator) chatModel(ctx context.Context, modelID string) (model.BaseChatModel, error) {
	switch g.provider {
	case "openai":
		maxTokens := g.maxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   g.baseURL,
			APIKey:    g.apiKey,
			Model:     modelID,
			MaxTokens: &maxTokens,
		})
	default:
		cfg := &deepseek.ChatModelConfig{
			APIKey:    g.apiKey,
			Model:     modelID,
			MaxTokens: g.maxTokens,
		}
		// deepseek's client appends its own version path
		if g.baseURL != "" && !strings.Contains(g.baseURL, "api.deepseek.com") {
			cfg.BaseURL = g.baseURL
		}
		return deepseek.NewChatModel(ctx, cfg)
	}
}

func (g *EinoGenerator) chain(ctx context.Context, modelID string) (chain, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.chains[modelID]; ok {
		return c, nil
	}
	cm, err := g.chatModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("create chat model %s: %w", modelID, err)
	}
	c, err := compose.NewChain[[]*schema.Message, *schema.Message]().
		AppendChatModel(cm, compose.WithNodeName(modelID)).
		Compile(ctx, compose.WithGraphName("stockdesk-"+modelID))
	if err != nil {
		return nil, fmt.Errorf("compile chain %s: %w", modelID, err)
	}
	g.chains[modelID] = c
	return c, nil
}

func (g *EinoGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		return "", errors.New("llm: model is required")
	}
	c, err := g.chain(ctx, req.Model)
	if err != nil {
		return "", err
	}
	msgs := make([]*schema.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, schema.UserMessage(req.Prompt))

	var opts []compose.Option
	if req.MaxTokens > 0 {
		opts = append(opts, compose.WithChatModelOption(model.WithMaxTokens(req.MaxTokens)))
	}
	if g.handler != nil {
		opts = append(opts, compose.WithCallbacks(g.handler))
	}
	out, err := c.Invoke(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", req.Model, err)
	}
	if out == nil {
		return "", fmt.Errorf("generate with %s: empty response", req.Model)
	}
	return strings.TrimSpace(out.Content), nil
}
