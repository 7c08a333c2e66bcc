package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"dialog-rag/internal/config"
	"dialog-rag/internal/db"
	"dialog-rag/internal/models"
)

// Message is one incoming chat message.
type Message struct {
	UserID   int64
	FullName string
	Login    string
	Text     string
}

// Sender delivers a reply to the user.
type Sender func(text string) error

const (
	msgWelcome      = "Hello, %s! Let's talk. To begin, send \"start dialog\"."
	msgCleared      = "Dialog cleared. Shall we talk?"
	msgStarted      = "Dialog started. Enter your message:"
	msgEnded        = "Dialog cleared! Shall we talk?"
	msgNeedDialog   = "To start talking to me, please send \"start dialog\"."
	msgNeedStart    = "Please send /start first."
	msgModeSelected = "Mode %s selected. Send \"start dialog\" to begin."
	msgModeMissing  = "Mode %s is not available."
	msgModeHeader   = "Available modes (current is marked with *):"
)

type Handler struct {
	cfg       *config.Config
	store     db.Store
	pipelines *Resolver
}

func NewHandler(cfg *config.Config, store db.Store, factory Factory) *Handler {
	return &Handler{cfg: cfg, store: store, pipelines: NewResolver(factory)}
}

// Warm loads or builds the pipeline of every enabled mode so that no
// question waits for an index build.
func (h *Handler) Warm(ctx context.Context) error {
	for _, m := range h.cfg.Modes {
		if !m.Enabled {
			continue
		}
		mode, err := h.cfg.Mode(m.Name)
		if err != nil {
			return err
		}
		if _, err := h.pipelines.Pipeline(ctx, mode); err != nil {
			return err
		}
	}
	return nil
}

// Handle routes msg to a command or, inside an open dialog, to the mode's
// pipeline, and sends the replies through send.
func (h *Handler) Handle(ctx context.Context, msg Message, send Sender) error {
	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)
	label := buttonLabel(lower)

	switch {
	case lower == "/start" || lower == "/restart":
		return h.start(ctx, msg, send)
	case lower == "/dialog" || label == "start dialog":
		return h.setDialog(ctx, msg.UserID, true, send)
	case lower == "/end" || label == "end dialog":
		return h.setDialog(ctx, msg.UserID, false, send)
	case lower == "/mode" || strings.HasPrefix(lower, "/mode "):
		return h.mode(ctx, msg.UserID, strings.TrimSpace(text[len("/mode"):]), send)
	case text == "":
		return nil
	}
	return h.answer(ctx, msg.UserID, text, send)
}

// buttonLabel drops the icon a keyboard button puts in front of its label.
func buttonLabel(lower string) string {
	return strings.TrimLeftFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (h *Handler) start(ctx context.Context, msg Message, send Sender) error {
	created, err := h.store.RegisterUser(ctx, models.User{
		ID:           msg.UserID,
		FullName:     msg.FullName,
		Login:        msg.Login,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		return err
	}
	if created {
		log.Info().Int64("user_id", msg.UserID).Msg("Registered user")
		return send(fmt.Sprintf(msgWelcome, msg.FullName))
	}
	if err := h.store.ClearDialog(ctx, msg.UserID, false); err != nil {
		return err
	}
	return send(msgCleared)
}

func (h *Handler) setDialog(ctx context.Context, userID int64, open bool, send Sender) error {
	var err error
	if open {
		err = h.store.StartDialog(ctx, userID)
	} else {
		err = h.store.EndDialog(ctx, userID)
	}
	if errors.Is(err, models.ErrUnknownUser) {
		return send(msgNeedStart)
	}
	if err != nil {
		return err
	}
	if open {
		return send(msgStarted)
	}
	return send(msgEnded)
}

func (h *Handler) mode(ctx context.Context, userID int64, name string, send Sender) error {
	state, err := h.store.GetState(ctx, userID)
	if err != nil {
		return err
	}
	if state == models.StateUnknown {
		return send(msgNeedStart)
	}

	if name == "" {
		current, err := h.currentMode(ctx, userID)
		if err != nil {
			return err
		}
		return send(h.listModes(userID, current.Name))
	}

	m, err := h.cfg.Mode(name)
	if err != nil || !m.Enabled || !m.Allowed(userID) {
		return send(fmt.Sprintf(msgModeMissing, name))
	}
	if err := h.store.ClearDialog(ctx, userID, false); err != nil {
		return err
	}
	if err := h.store.SetMode(ctx, userID, m.Name); err != nil {
		return err
	}
	log.Info().Int64("user_id", userID).Str("mode", m.Name).Msg("Selected mode")
	return send(fmt.Sprintf(msgModeSelected, m.Name))
}

func (h *Handler) listModes(userID int64, current string) string {
	var sb strings.Builder
	sb.WriteString(msgModeHeader)
	for _, m := range h.cfg.Modes {
		if !m.Enabled || !m.Allowed(userID) {
			continue
		}
		marker := " "
		if m.Name == current {
			marker = "*"
		}
		fmt.Fprintf(&sb, "\n%s %s", marker, m.Name)
		if m.Description != "" {
			fmt.Fprintf(&sb, " - %s", m.Description)
		}
	}
	return sb.String()
}

func (h *Handler) currentMode(ctx context.Context, userID int64) (config.ModeConfig, error) {
	stored, ok, err := h.store.SelectedMode(ctx, userID)
	if err != nil {
		return config.ModeConfig{}, err
	}
	return h.cfg.ModeFor(stored, ok, userID), nil
}

func (h *Handler) answer(ctx context.Context, userID int64, question string, send Sender) error {
	state, err := h.store.GetState(ctx, userID)
	if err != nil {
		return err
	}
	switch state {
	case models.StateUnknown:
		return send(msgNeedStart)
	case models.StateNoDialog:
		return send(msgNeedDialog)
	}

	mode, err := h.currentMode(ctx, userID)
	if err != nil {
		return err
	}
	pipeline, err := h.pipelines.Pipeline(ctx, mode)
	if err != nil {
		_ = send(h.cfg.Prompt.Apology)
		return err
	}

	reply, err := pipeline.Answer(ctx, question, userID)
	if errors.Is(err, models.ErrNotInDialog) {
		return send(msgNeedDialog)
	}
	if err != nil {
		_ = send(h.cfg.Prompt.Apology)
		return err
	}

	if err := send(reply); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to deliver reply")
		_ = send(h.cfg.Prompt.Apology)
	}

	// the dialog may have been closed while the model was answering
	if _, err := h.store.AppendTurn(ctx, userID, models.AssistantTurn(reply, question)); err != nil && !errors.Is(err, models.ErrNotInDialog) {
		return err
	}
	return nil
}
