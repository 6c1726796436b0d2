package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Render fills an FString template ({name} placeholders, doubled braces
// for literals) and returns the text.
func Render(ctx context.Context, tpl string, vars map[string]any) (string, error) {
	msgs, err := prompt.FromMessages(schema.FString, schema.UserMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].Content, nil
}
