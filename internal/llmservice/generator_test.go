package llmservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"dialog-rag/internal/config"
	"dialog-rag/internal/models"
)

type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	block    bool
	prompts  []string
	tempSeen float64
	optsSeen int
}

func (f *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	f.tempSeen = opts.Temperature
	f.optsSeen = len(options)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func reply(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}
}

func TestGenerate(t *testing.T) {
	m := &fakeModel{resp: reply("  print(1)  ")}
	g := NewGenerator(m, config.LLMConfig{Model: "qwen", Temperature: config.Float(0.5)})

	out, err := g.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", out)
	assert.Equal(t, []string{"prompt text"}, m.prompts)
	assert.InDelta(t, 0.5, m.tempSeen, 1e-9)
}

func TestGenerateTemperature(t *testing.T) {
	m := &fakeModel{resp: reply("ok"), tempSeen: -1}
	_, err := NewGenerator(m, config.LLMConfig{Temperature: config.Float(0)}).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 1, m.optsSeen)
	assert.Zero(t, m.tempSeen)

	m = &fakeModel{resp: reply("ok")}
	_, err = NewGenerator(m, config.LLMConfig{}).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 0, m.optsSeen)
}

func TestGenerateStripsThinking(t *testing.T) {
	m := &fakeModel{resp: reply("<think>\nlet me see\n</think>\nanswer")}
	out, err := NewGenerator(m, config.LLMConfig{}).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{"transport", &fakeModel{err: errors.New("connection refused")}},
		{"nil response", &fakeModel{}},
		{"no choices", &fakeModel{resp: &llms.ContentResponse{}}},
		{"empty text", &fakeModel{resp: reply("   ")}},
		{"only thinking", &fakeModel{resp: reply("<think>hmm</think>")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.model, config.LLMConfig{}).Generate(context.Background(), "p")
			assert.ErrorIs(t, err, models.ErrGeneration)
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	g := NewGenerator(&fakeModel{block: true}, config.LLMConfig{})
	g.timeout = 20 * time.Millisecond

	_, err := g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
