// Package dispatch turns inbound chat messages into replies: it resolves the
// sender, filters what must not be answered, asks the model with fresh
// vacancy data in the system prompt and sends the answer back.
package dispatch

import (
	"context"

	"github.com/nous-labs/vacancy-bridge/internal/llm"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// SessionStore keeps per-user conversation history.
type SessionStore interface {
	AppendTurn(ctx context.Context, turn conversation.Turn) error
	// History returns the most recent turns of a chat, oldest first.
	History(ctx context.Context, userID, chatID string, limit int) ([]conversation.Turn, error)
	SetSessionMode(ctx context.Context, userID, chatID string, mode conversation.Mode) error
}

// ModeStore holds the per-user conversation mode.
type ModeStore interface {
	IsHumanMode(ctx context.Context, userID string) (bool, error)
	IsSupportMode(ctx context.Context, userID string) (bool, error)
	SetMode(ctx context.Context, userID string, mode conversation.Mode) error
}

// AuditLog records the audit trail.
type AuditLog interface {
	Record(ctx context.Context, entry conversation.AuditEntry) error
}

// Generator produces a reply for a message list.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

// Enricher renders the data the model must ground its answers on.
type Enricher interface {
	Enrichment(ctx context.Context) string
}
