package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialog-rag/internal/chromemdb"
	"dialog-rag/internal/db"
	"dialog-rag/internal/embedding"
	"dialog-rag/internal/embedding/embeddingtest"
	"dialog-rag/internal/models"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type failingRetriever struct{}

func (failingRetriever) Query(context.Context, string, int) (models.RetrievalResult, error) {
	return nil, errors.New("index unavailable")
}

func mathIndex(t *testing.T) *chromemdb.Store {
	t.Helper()
	e := embeddingtest.NewKeyword("add", "sub").Embedder(embedding.Signature{Model: "keyword"})
	idx, err := chromemdb.NewMemoryIndex(context.Background(), e, "documents", []models.DocumentChunk{
		{Text: "def add(a,b): return a+b", Metadata: map[string]string{"file": "math.py"}},
		{Text: "def sub(a,b): return a-b", Metadata: map[string]string{"file": "math.py"}},
	})
	require.NoError(t, err)
	return idx
}

func userInDialog(t *testing.T, s db.Store, id int64) {
	t.Helper()
	ctx := context.Background()
	_, err := s.RegisterUser(ctx, models.User{ID: id, FullName: "Test"})
	require.NoError(t, err)
	require.NoError(t, s.StartDialog(ctx, id))
}

func TestAnswerEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userInDialog(t, store, 42)
	gen := &fakeGenerator{reply: "return a + b"}

	p, err := NewPipeline(Deps{Index: mathIndex(t), Generator: gen, History: store, TopK: 1})
	require.NoError(t, err)

	question := "how do I add two numbers?"
	reply, err := p.Answer(ctx, question, 42)
	require.NoError(t, err)
	assert.Equal(t, "return a + b", reply)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "def add(a,b)")
	assert.NotContains(t, gen.prompts[0], "def sub(a,b)")
	assert.Contains(t, gen.prompts[0], "user: "+question)
	assert.Contains(t, gen.prompts[0], `{"file":"math.py"}`)

	_, err = store.AppendTurn(ctx, 42, models.AssistantTurn(reply, question))
	require.NoError(t, err)
	history, err := store.GetHistory(ctx, 42)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, question, history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, reply, history[1].Content)
}

func TestAnswerIncludesEarlierTurns(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userInDialog(t, store, 1)
	gen := &fakeGenerator{reply: "ok"}
	p, err := NewPipeline(Deps{Index: mathIndex(t), Generator: gen, History: store, TopK: 1})
	require.NoError(t, err)

	_, err = p.Answer(ctx, "add?", 1)
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, 1, models.AssistantTurn("ok", "add?"))
	require.NoError(t, err)
	_, err = p.Answer(ctx, "and sub?", 1)
	require.NoError(t, err)

	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "user: add?\nassistant: ok\nuser: and sub?")
	assert.Contains(t, gen.prompts[1], "def sub(a,b)")
}

func TestAnswerGenerationFailure(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userInDialog(t, store, 42)
	gen := &fakeGenerator{err: fmt.Errorf("%w: connection refused", models.ErrGeneration)}

	p, err := NewPipeline(Deps{Index: mathIndex(t), Generator: gen, History: store, TopK: 1, Apology: "sorry"})
	require.NoError(t, err)

	reply, err := p.Answer(ctx, "how do I add two numbers?", 42)
	require.NoError(t, err)
	assert.Equal(t, "sorry", reply)

	history, err := store.GetHistory(ctx, 42)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "how do I add two numbers?", history[0].Content)
}

func TestAnswerRequiresDialog(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	_, err := store.RegisterUser(ctx, models.User{ID: 5})
	require.NoError(t, err)
	gen := &fakeGenerator{reply: "x"}
	p, err := NewPipeline(Deps{Index: mathIndex(t), Generator: gen, History: store})
	require.NoError(t, err)

	_, err = p.Answer(ctx, "q", 5)
	assert.ErrorIs(t, err, models.ErrNotInDialog)

	_, err = p.Answer(ctx, "q", 6)
	assert.ErrorIs(t, err, models.ErrUnknownUser)

	assert.Empty(t, gen.prompts)
	history, err := store.GetHistory(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAnswerPropagatesRetrievalErrors(t *testing.T) {
	store := db.NewMemoryStore()
	userInDialog(t, store, 9)
	p, err := NewPipeline(Deps{Index: failingRetriever{}, Generator: &fakeGenerator{}, History: store})
	require.NoError(t, err)

	_, err = p.Answer(context.Background(), "q", 9)
	assert.ErrorContains(t, err, "index unavailable")
}

func TestNewPipelineDefaults(t *testing.T) {
	_, err := NewPipeline(Deps{})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	p, err := NewPipeline(Deps{Index: failingRetriever{}, Generator: &fakeGenerator{}, History: db.NewMemoryStore()})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultNumberRelevantChunks, p.deps.TopK)
	assert.Equal(t, models.DefaultApology, p.deps.Apology)

	_, err = NewPipeline(Deps{Index: failingRetriever{}, Generator: &fakeGenerator{}, History: db.NewMemoryStore(), TopK: -1})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
