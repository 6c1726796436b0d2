package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/callbacks"
	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/internal/logger"
)

type startKey struct{}

// LogCallback writes model start/end/error events to zap.
type LogCallback struct {
	logger *zap.Logger
}

var _ callbacks.Handler = (*LogCallback)(nil)

func NewLogCallback(l *zap.Logger) *LogCallback {
	return &LogCallback{logger: logger.OrNop(l).Named("eino")}
}

func (cb *LogCallback) fields(info *callbacks.RunInfo) []zap.Field {
	if info == nil {
		return nil
	}
	return []zap.Field{
		zap.String("node", info.Name),
		zap.String("type", info.Type),
		zap.String("component", string(info.Component)),
	}
}

func (cb *LogCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	fields := cb.fields(info)
	if in := ecmodel.ConvCallbackInput(input); in != nil {
		fields = append(fields, zap.Int("messages", len(in.Messages)))
	}
	cb.logger.Debug("llm start", fields...)
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (cb *LogCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	fields := cb.fields(info)
	if started, ok := ctx.Value(startKey{}).(time.Time); ok {
		fields = append(fields, zap.Duration("elapsed", time.Since(started)))
	}
	if out := ecmodel.ConvCallbackOutput(output); out != nil {
		if out.Message != nil {
			fields = append(fields, zap.Int("chars", len(out.Message.Content)))
			if out.Message.ResponseMeta != nil {
				fields = append(fields, zap.String("finish_reason", out.Message.ResponseMeta.FinishReason))
			}
		}
		if out.TokenUsage != nil {
			fields = append(fields,
				zap.Int("prompt_tokens", out.TokenUsage.PromptTokens),
				zap.Int("completion_tokens", out.TokenUsage.CompletionTokens))
		}
	}
	cb.logger.Debug("llm end", fields...)
	return ctx
}

func (cb *LogCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	cb.logger.Warn("llm error", append(cb.fields(info), zap.Error(err))...)
	return ctx
}

func (cb *LogCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (cb *LogCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	go func() {
		defer output.Close()
		defer func() {
			if r := recover(); r != nil {
				cb.logger.Error("llm stream callback panic", zap.Any("panic", r))
			}
		}()
		chars := 0
		for {
			frame, err := output.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				cb.logger.Warn("llm stream recv", append(cb.fields(info), zap.Error(err))...)
				return
			}
			if out := ecmodel.ConvCallbackOutput(frame); out != nil && out.Message != nil {
				chars += len(out.Message.Content)
			}
		}
		cb.logger.Debug("llm stream end", append(cb.fields(info), zap.Int("chars", chars))...)
	}()
	return ctx
}
