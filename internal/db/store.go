package db

import (
	"context"

	"dialog-rag/internal/models"
)

// Store keeps users, their dialog state, turn history and selected mode.
// Writes for one user are serialized; different users never block each other.
type Store interface {
	// RegisterUser inserts u unless the id is already known and reports
	// whether a row was created.
	RegisterUser(ctx context.Context, u models.User) (bool, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
	CountUsers(ctx context.Context) (int, error)

	// GetState returns StateUnknown, without error, for unregistered users.
	GetState(ctx context.Context, userID int64) (models.DialogState, error)
	StartDialog(ctx context.Context, userID int64) error
	EndDialog(ctx context.Context, userID int64) error
	// ClearDialog deletes every turn of the user and sets the dialog flag.
	ClearDialog(ctx context.Context, userID int64, inDialog bool) error

	// AppendTurn records turn only while the user is in a dialog and returns
	// the full history including it.
	AppendTurn(ctx context.Context, userID int64, turn models.DialogTurn) ([]models.DialogTurn, error)
	GetHistory(ctx context.Context, userID int64) ([]models.DialogTurn, error)

	SetMode(ctx context.Context, userID int64, mode string) error
	SelectedMode(ctx context.Context, userID int64) (string, bool, error)

	Close() error
}
