package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialog-rag/internal/chromemdb"
	"dialog-rag/internal/config"
	"dialog-rag/internal/db"
	"dialog-rag/internal/embedding"
	"dialog-rag/internal/embedding/embeddingtest"
	"dialog-rag/internal/models"
	"dialog-rag/internal/rag"
)

type echoGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return "reply", nil
}

type outbox struct {
	messages []string
	failNext bool
}

func (o *outbox) send(text string) error {
	if o.failNext {
		o.failNext = false
		return errors.New("chat unavailable")
	}
	o.messages = append(o.messages, text)
	return nil
}

func (o *outbox) last() string {
	if len(o.messages) == 0 {
		return ""
	}
	return o.messages[len(o.messages)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		RAG:    config.RAGConfig{NumberRelevantChunks: 1},
		Prompt: config.PromptConfig{Template: models.DefaultPromptTemplate, Apology: models.DefaultApology},
		Modes: []config.ModeConfig{
			{Name: "code", Description: "Programmer assistant", Enabled: true},
			{Name: "admin", Enabled: true, UserAccess: []int64{1}},
			{Name: "off", Enabled: false},
		},
		DefaultMode: "code",
	}
}

type fixture struct {
	handler *Handler
	store   *db.MemoryStore
	gen     *echoGenerator
	built   map[string]int
	out     *outbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: db.NewMemoryStore(),
		gen:   &echoGenerator{},
		built: map[string]int{},
		out:   &outbox{},
	}
	e := embeddingtest.NewKeyword("add", "sub").Embedder(embedding.Signature{Model: "keyword"})
	index, err := chromemdb.NewMemoryIndex(context.Background(), e, "documents", []models.DocumentChunk{
		{Text: "def add(a,b): return a+b", Metadata: map[string]string{"file": "math.py"}},
		{Text: "def sub(a,b): return a-b", Metadata: map[string]string{"file": "math.py"}},
	})
	require.NoError(t, err)

	cfg := testConfig()
	factory := func(_ context.Context, mode config.ModeConfig) (Answerer, error) {
		f.built[mode.Name]++
		return rag.NewPipeline(rag.Deps{
			Index:     index,
			Generator: f.gen,
			History:   f.store,
			TopK:      cfg.RAG.NumberRelevantChunks,
			Template:  mode.Template,
			Apology:   cfg.Prompt.Apology,
		})
	}
	f.handler = NewHandler(cfg, f.store, factory)
	return f
}

func (f *fixture) say(t *testing.T, userID int64, text string) string {
	t.Helper()
	require.NoError(t, f.handler.Handle(context.Background(), Message{UserID: userID, FullName: "Ann", Text: text}, f.out.send))
	return f.out.last()
}

func TestStartRegistersThenClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, `Hello, Ann! Let's talk. To begin, send "start dialog".`, f.say(t, 7, "/start"))
	n, err := f.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.say(t, 7, "start dialog")
	f.say(t, 7, "how to add?")

	assert.Equal(t, msgCleared, f.say(t, 7, "/restart"))
	state, err := f.store.GetState(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StateNoDialog, state)
	history, err := f.store.GetHistory(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, history)

	n, err = f.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDialogFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, msgNeedStart, f.say(t, 7, "hello"))
	f.say(t, 7, "/start")
	assert.Equal(t, msgNeedDialog, f.say(t, 7, "hello"))

	assert.Equal(t, msgStarted, f.say(t, 7, "▶️ Start dialog"))
	assert.Equal(t, "reply", f.say(t, 7, "how to add?"))

	history, err := f.store.GetHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "how to add?", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "reply", history[1].Content)
	assert.Equal(t, "how to add?", history[1].RawText)

	require.Len(t, f.gen.prompts, 1)
	assert.Contains(t, f.gen.prompts[0], "def add(a,b)")

	assert.Equal(t, msgEnded, f.say(t, 7, "/end"))
	history, err = f.store.GetHistory(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDialogCommandsNeedRegistration(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, msgNeedStart, f.say(t, 9, "/dialog"))
	assert.Equal(t, msgNeedStart, f.say(t, 9, "end dialog"))
	assert.Equal(t, msgNeedStart, f.say(t, 9, "/mode"))
}

func TestModeSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.say(t, 2, "/start")
	assert.Equal(t, msgModeHeader+"\n* code - Programmer assistant", f.say(t, 2, "/mode"))

	assert.Equal(t, "Mode admin is not available.", f.say(t, 2, "/mode admin"))
	assert.Equal(t, "Mode off is not available.", f.say(t, 2, "/mode off"))
	assert.Equal(t, "Mode nope is not available.", f.say(t, 2, "/mode nope"))

	f.say(t, 1, "/start")
	f.say(t, 1, "start dialog")
	assert.Equal(t, `Mode admin selected. Send "start dialog" to begin.`, f.say(t, 1, "/mode admin"))

	state, err := f.store.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StateNoDialog, state)
	mode, ok, err := f.store.SelectedMode(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "admin", mode)
	assert.Equal(t, msgModeHeader+"\n  code - Programmer assistant\n* admin", f.say(t, 1, "/mode"))

	f.say(t, 1, "start dialog")
	f.say(t, 1, "sub?")
	f.say(t, 2, "start dialog")
	f.say(t, 2, "add?")
	f.say(t, 1, "add?")
	assert.Equal(t, map[string]int{"admin": 1, "code": 1}, f.built)
}

func TestAnswerApologyOnGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = models.ErrGeneration

	f.say(t, 3, "/start")
	f.say(t, 3, "start dialog")
	assert.Equal(t, models.DefaultApology, f.say(t, 3, "add?"))

	history, err := f.store.GetHistory(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.DefaultApology, history[1].Content)
}

func TestAnswerDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.say(t, 4, "/start")
	f.say(t, 4, "start dialog")

	f.out.failNext = true
	require.NoError(t, f.handler.Handle(context.Background(), Message{UserID: 4, Text: "add?"}, f.out.send))
	assert.Equal(t, models.DefaultApology, f.out.last())

	history, err := f.store.GetHistory(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "reply", history[1].Content)
}

func TestFactoryErrorIsReported(t *testing.T) {
	store := db.NewMemoryStore()
	out := &outbox{}
	h := NewHandler(testConfig(), store, func(context.Context, config.ModeConfig) (Answerer, error) {
		return nil, models.ErrIndexNotFound
	})
	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, Message{UserID: 5, Text: "/start"}, out.send))
	require.NoError(t, h.Handle(ctx, Message{UserID: 5, Text: "start dialog"}, out.send))

	err := h.Handle(ctx, Message{UserID: 5, Text: "add?"}, out.send)
	assert.ErrorIs(t, err, models.ErrIndexNotFound)
	assert.Equal(t, models.DefaultApology, out.last())
}

func TestDialogWordsInsideQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.say(t, 7, "/start")
	f.say(t, 7, "start dialog")
	f.say(t, 7, "how to add?")

	for _, q := range []string{"how do I send dialog messages to add?", "restart dialog after sub?", "backend dialog for add"} {
		assert.Equal(t, "reply", f.say(t, 7, q), q)
	}

	state, err := f.store.GetState(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StateInDialog, state)
	history, err := f.store.GetHistory(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, history, 8)
	assert.Len(t, f.gen.prompts, 4)

	assert.Equal(t, msgEnded, f.say(t, 7, "❌ End dialog"))
}

func TestRevokedModeFallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	f.say(t, 1, "/start")
	f.say(t, 1, "/mode admin")
	f.say(t, 1, "start dialog")
	f.say(t, 1, "add?")
	assert.Equal(t, map[string]int{"admin": 1}, f.built)

	f.handler.cfg.Modes[1].UserAccess = []int64{99}
	f.say(t, 1, "sub?")
	assert.Equal(t, map[string]int{"admin": 1, "code": 1}, f.built)
}

func TestWarmBuildsEnabledModes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.handler.Warm(context.Background()))
	assert.Equal(t, map[string]int{"admin": 1, "code": 1}, f.built)

	f.say(t, 2, "/start")
	f.say(t, 2, "start dialog")
	f.say(t, 2, "add?")
	assert.Equal(t, map[string]int{"admin": 1, "code": 1}, f.built)
}
