package db

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"dialog-rag/internal/models"
)

// MemoryStore is a process-local Store, used when no database is configured
// and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]*memoryUser
	seq   int64
}

type memoryUser struct {
	mu      sync.Mutex
	user    models.User
	history []models.DialogTurn
	modes   []string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]*memoryUser)}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) get(userID int64) (*memoryUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrUnknownUser, userID)
	}
	return u, nil
}

func (s *MemoryStore) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *MemoryStore) RegisterUser(_ context.Context, u models.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return false, nil
	}
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now().UTC()
	}
	s.users[u.ID] = &memoryUser{user: u}
	return true, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID int64) (models.User, error) {
	u, err := s.get(userID)
	if err != nil {
		return models.User{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.user, nil
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) GetState(_ context.Context, userID int64) (models.DialogState, error) {
	u, err := s.get(userID)
	if err != nil {
		return models.StateUnknown, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return models.StateOf(u.user.InDialog), nil
}

func (s *MemoryStore) StartDialog(ctx context.Context, userID int64) error {
	return s.ClearDialog(ctx, userID, true)
}

func (s *MemoryStore) EndDialog(ctx context.Context, userID int64) error {
	return s.ClearDialog(ctx, userID, false)
}

func (s *MemoryStore) ClearDialog(_ context.Context, userID int64, inDialog bool) error {
	u, err := s.get(userID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.history = nil
	u.user.InDialog = inDialog
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, userID int64, turn models.DialogTurn) ([]models.DialogTurn, error) {
	u, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.user.InDialog {
		return nil, fmt.Errorf("%w: %d", models.ErrNotInDialog, userID)
	}
	turn.Seq = s.nextSeq()
	u.history = append(u.history, turn)
	return slices.Clone(u.history), nil
}

func (s *MemoryStore) GetHistory(_ context.Context, userID int64) ([]models.DialogTurn, error) {
	u, err := s.get(userID)
	if err != nil {
		return []models.DialogTurn{}, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.history == nil {
		return []models.DialogTurn{}, nil
	}
	return slices.Clone(u.history), nil
}

func (s *MemoryStore) SetMode(_ context.Context, userID int64, mode string) error {
	u, err := s.get(userID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.modes = append(u.modes, mode)
	return nil
}

func (s *MemoryStore) SelectedMode(_ context.Context, userID int64) (string, bool, error) {
	u, err := s.get(userID)
	if err != nil {
		return "", false, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.modes) == 0 {
		return "", false, nil
	}
	return u.modes[len(u.modes)-1], true, nil
}
