package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"dialog-rag/internal/models"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	UserID        int64     `bun:"user_id,pk"`
	FullName      string    `bun:"full_name"`
	UserLogin     string    `bun:"user_login"`
	InDialog      bool      `bun:"in_dialog,notnull"`
	DateReg       time.Time `bun:"date_reg,notnull,default:current_timestamp"`
}

func (r userRow) toModel() models.User {
	return models.User{
		ID:           r.UserID,
		FullName:     r.FullName,
		Login:        r.UserLogin,
		InDialog:     r.InDialog,
		RegisteredAt: r.DateReg,
	}
}

type dialogMessage struct {
	bun.BaseModel `bun:"table:dialog_history,alias:dh"`
	ID            int64             `bun:"id,pk,autoincrement"`
	UserID        int64             `bun:"user_id,notnull"`
	Message       models.DialogTurn `bun:"message,type:jsonb,notnull"`
	DataMessage   string            `bun:"data_message"`
}

type dialogMode struct {
	bun.BaseModel `bun:"table:dialog_mode,alias:dm"`
	ID            int64  `bun:"id,pk,autoincrement"`
	UserID        int64  `bun:"user_id,notnull"`
	Mode          string `bun:"mode,notnull"`
}

// PostgresStore serializes per-user writes by locking the user row.
type PostgresStore struct {
	db *bun.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) RegisterUser(ctx context.Context, u models.User) (bool, error) {
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now().UTC()
	}
	row := &userRow{
		UserID:    u.ID,
		FullName:  u.FullName,
		UserLogin: u.Login,
		InDialog:  u.InDialog,
		DateReg:   u.RegisteredAt,
	}
	res, err := s.db.NewInsert().Model(row).On("CONFLICT (user_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var row userRow
	err := s.db.NewSelect().Model(&row).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("%w: %d", models.ErrUnknownUser, userID)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*userRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetState(ctx context.Context, userID int64) (models.DialogState, error) {
	var inDialog bool
	err := s.db.NewSelect().
		Model((*userRow)(nil)).
		Column("in_dialog").
		Where("user_id = ?", userID).
		Scan(ctx, &inDialog)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StateUnknown, nil
	}
	if err != nil {
		return models.StateUnknown, fmt.Errorf("failed to get dialog state: %w", err)
	}
	return models.StateOf(inDialog), nil
}

func (s *PostgresStore) StartDialog(ctx context.Context, userID int64) error {
	return s.ClearDialog(ctx, userID, true)
}

func (s *PostgresStore) EndDialog(ctx context.Context, userID int64) error {
	return s.ClearDialog(ctx, userID, false)
}

func (s *PostgresStore) ClearDialog(ctx context.Context, userID int64, inDialog bool) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*dialogMessage)(nil)).Where("user_id = ?", userID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear dialog: %w", err)
		}
		_, err = tx.NewUpdate().
			Model((*userRow)(nil)).
			Set("in_dialog = ?", inDialog).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update dialog status: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) AppendTurn(ctx context.Context, userID int64, turn models.DialogTurn) ([]models.DialogTurn, error) {
	var history []models.DialogTurn
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		u, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !u.InDialog {
			return fmt.Errorf("%w: %d", models.ErrNotInDialog, userID)
		}
		msg := &dialogMessage{UserID: userID, Message: turn, DataMessage: turn.RawText}
		if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
			return fmt.Errorf("failed to append turn: %w", err)
		}
		history, err = selectHistory(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, userID int64) ([]models.DialogTurn, error) {
	return selectHistory(ctx, s.db, userID)
}

func (s *PostgresStore) SetMode(ctx context.Context, userID int64, mode string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&dialogMode{UserID: userID, Mode: mode}).Exec(ctx); err != nil {
			return fmt.Errorf("failed to set mode: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) SelectedMode(ctx context.Context, userID int64) (string, bool, error) {
	var row dialogMode
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get mode: %w", err)
	}
	return row.Mode, true, nil
}

func lockUser(ctx context.Context, tx bun.Tx, userID int64) (userRow, error) {
	var row userRow
	err := tx.NewSelect().Model(&row).Where("user_id = ?", userID).For("UPDATE").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %d", models.ErrUnknownUser, userID)
	}
	if err != nil {
		return row, fmt.Errorf("failed to lock user: %w", err)
	}
	return row, nil
}

func selectHistory(ctx context.Context, db bun.IDB, userID int64) ([]models.DialogTurn, error) {
	var rows []dialogMessage
	err := db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get dialog history: %w", err)
	}
	history := make([]models.DialogTurn, len(rows))
	for i, r := range rows {
		history[i] = r.Message
		history[i].RawText = r.DataMessage
		history[i].Seq = r.ID
	}
	return history, nil
}
