package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"dialog-rag/internal/config"
	"dialog-rag/internal/models"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Generator sends a composed prompt to a chat model and returns its reply.
type Generator struct {
	model       llms.Model
	name        string
	temperature *float64
	timeout     time.Duration
}

func NewGenerator(model llms.Model, llmConfig config.LLMConfig) *Generator {
	return &Generator{
		model:       model,
		name:        llmConfig.Model,
		temperature: llmConfig.Temperature,
		timeout:     time.Duration(llmConfig.TimeoutSecs) * time.Second,
	}
}

// Generate makes one non-streaming call. Any failure, including an empty
// reply, is reported as models.ErrGeneration.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	msgContent := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
	var opts []llms.CallOption
	if g.temperature != nil {
		opts = append(opts, llms.WithTemperature(*g.temperature))
	}
	resp, err := g.model.GenerateContent(ctx, msgContent, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%w: model %s returned no choices", models.ErrGeneration, g.name)
	}

	text := strings.TrimSpace(StripThinking(resp.Choices[0].Content))
	if text == "" {
		return "", fmt.Errorf("%w: model %s returned an empty reply", models.ErrGeneration, g.name)
	}
	log.Debug().
		Str("model", g.name).
		Dur("took", time.Since(start)).
		Int("reply_len", len(text)).
		Msg("Generated reply")
	return text, nil
}

// StripThinking removes <think>...</think> blocks emitted by reasoning models.
func StripThinking(s string) string {
	return thinkTag.ReplaceAllString(s, "")
}
