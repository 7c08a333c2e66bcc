package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DialogTurn is one message of a user's conversation. Role and Content are
// what gets persisted as the structured message; RawText is the original
// chat message that triggered the turn.
type DialogTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	RawText string `json:"-"`
	Seq     int64  `json:"-"`
}

func UserTurn(question string) DialogTurn {
	return DialogTurn{Role: RoleUser, Content: question, RawText: question}
}

func AssistantTurn(reply, rawText string) DialogTurn {
	return DialogTurn{Role: RoleAssistant, Content: reply, RawText: rawText}
}

// DialogState is the per-user conversation state.
type DialogState int

const (
	// StateUnknown means the user was never registered.
	StateUnknown DialogState = iota
	StateNoDialog
	StateInDialog
)

func (s DialogState) String() string {
	switch s {
	case StateNoDialog:
		return "NO_DIALOG"
	case StateInDialog:
		return "IN_DIALOG"
	default:
		return "UNKNOWN"
	}
}

func StateOf(inDialog bool) DialogState {
	if inDialog {
		return StateInDialog
	}
	return StateNoDialog
}

// User is a registered chat account.
type User struct {
	ID           int64
	FullName     string
	Login        string
	InDialog     bool
	RegisteredAt time.Time
}

// UserDialogState is a snapshot of everything stored for one user.
type UserDialogState struct {
	User    User
	History []DialogTurn
	Mode    string
	HasMode bool
}
