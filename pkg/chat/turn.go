package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
	TurnCancelled TurnStatus = "cancelled"
)

// IsTerminal reports whether the turn content is frozen.
func (s TurnStatus) IsTerminal() bool {
	switch s {
	case TurnCompleted, TurnFailed, TurnCancelled:
		return true
	case TurnPending, TurnStreaming:
		return false
	}
	return false
}

// Turn is one entry of the conversation log. Turns handed out by the Store are
// copies; mutate through the Store only.
type Turn struct {
	ID        string     `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Status    TurnStatus `json:"status" yaml:"status"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

func NewUserTurn(content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
		Status:    TurnCompleted,
	}
}

// NewAssistantPlaceholder returns an empty assistant turn waiting for its stream.
func NewAssistantPlaceholder() Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		Status:    TurnPending,
	}
}
