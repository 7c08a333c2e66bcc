package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"dialog-rag/internal/helper"
	"dialog-rag/internal/models"
)

type Retriever interface {
	Query(ctx context.Context, text string, k int) (models.RetrievalResult, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// HistoryStore is the part of the dialog store the pipeline needs.
type HistoryStore interface {
	GetState(ctx context.Context, userID int64) (models.DialogState, error)
	AppendTurn(ctx context.Context, userID int64, turn models.DialogTurn) ([]models.DialogTurn, error)
}

type Deps struct {
	Index     Retriever
	Generator Generator
	History   HistoryStore
	// TopK is the number of chunks put into the prompt.
	TopK     int
	Template string
	// Apology replaces the reply when generation fails.
	Apology string
}

type Pipeline struct {
	deps Deps
}

func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Index == nil || deps.Generator == nil || deps.History == nil {
		return nil, fmt.Errorf("%w: index, generator and history are required", models.ErrInvalidArgument)
	}
	if deps.TopK == 0 {
		deps.TopK = models.DefaultNumberRelevantChunks
	}
	if deps.TopK < 0 {
		return nil, fmt.Errorf("%w: top k must be positive, got %d", models.ErrInvalidArgument, deps.TopK)
	}
	if deps.Template == "" {
		deps.Template = models.DefaultPromptTemplate
	}
	if deps.Apology == "" {
		deps.Apology = models.DefaultApology
	}
	return &Pipeline{deps: deps}, nil
}

// Answer records question in the user's dialog, retrieves context for it
// and returns the model's reply. The caller appends the assistant turn once
// the reply has been delivered. A failed generation yields the apology and
// no error; the question stays in the history.
func (p *Pipeline) Answer(ctx context.Context, question string, userID int64) (string, error) {
	logger := log.With().Str("request_id", helper.RequestID()).Int64("user_id", userID).Logger()
	start := time.Now()

	state, err := p.deps.History.GetState(ctx, userID)
	if err != nil {
		return "", err
	}
	switch state {
	case models.StateInDialog:
	case models.StateUnknown:
		return "", fmt.Errorf("%w: %d", models.ErrUnknownUser, userID)
	default:
		return "", fmt.Errorf("%w: %d", models.ErrNotInDialog, userID)
	}

	history, err := p.deps.History.AppendTurn(ctx, userID, models.UserTurn(question))
	if err != nil {
		return "", err
	}

	chunks, err := p.deps.Index.Query(ctx, question, p.deps.TopK)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve context: %w", err)
	}
	contextBlock := FormatChunks(chunks.Chunks())
	logger.Debug().Int("chunks", len(chunks)).Str("context", contextBlock).Msg("Retrieved context")

	prompt := ComposePrompt(p.deps.Template, contextBlock, history, question)
	reply, err := p.deps.Generator.Generate(ctx, prompt)
	if errors.Is(err, models.ErrGeneration) {
		logger.Error().Err(err).Msg("Generation failed, replying with apology")
		return p.deps.Apology, nil
	}
	if err != nil {
		return "", err
	}

	logger.Info().
		Int("history", len(history)).
		Dur("took", time.Since(start)).
		Msg("Answered question")
	logger.Debug().Str("reply", reply).Msg("Model reply")
	return reply, nil
}
