// Package conversation holds the domain types shared by the dispatch
// pipeline and the stores that persist conversations.
package conversation

import "time"

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode gates whether the bridge auto-replies to a user.
type Mode string

const (
	ModeNormal  Mode = "normal"
	ModeHuman   Mode = "human"   // a human agent took over
	ModeSupport Mode = "support" // escalated to support by the assistant
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeHuman, ModeSupport:
		return true
	}
	return false
}

// Turn is a single appended conversation turn. Turns are never mutated.
type Turn struct {
	ID        string
	UserID    string
	ChatID    string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Audit categories.
const (
	AuditClient = "client"
	AuditBot    = "bot"
	AuditSystem = "system"
	AuditError  = "error"
)

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	ID          int64     `json:"id"`
	Category    string    `json:"category"`
	Text        string    `json:"text"`
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
