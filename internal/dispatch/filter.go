package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// Reason tells why a message was dropped. The zero value means accepted.
type Reason string

const (
	Accepted    Reason = ""
	DropSelf    Reason = "self"
	DropGroup   Reason = "group"
	DropEmpty   Reason = "empty"
	DropHuman   Reason = "human_mode"
	DropSupport Reason = "support_mode"
)

// Filter decides whether an inbound message reaches the orchestrator.
type Filter struct {
	modes ModeStore
	audit AuditLog
}

// NewFilter creates a Filter.
func NewFilter(modes ModeStore, audit AuditLog) *Filter {
	return &Filter{modes: modes, audit: audit}
}

// Screen applies the checks that need nothing but the message itself.
func (f *Filter) Screen(msg channel.Message) Reason {
	switch {
	case msg.FromMe:
		return DropSelf
	case msg.IsGroup:
		return DropGroup
	case strings.TrimSpace(msg.Text) == "":
		return DropEmpty
	}
	return Accepted
}

// Gate drops users a human or the support team is handling. Dropping writes
// a system audit entry. A mode lookup failure lets the message through.
func (f *Filter) Gate(ctx context.Context, userID, displayName string) Reason {
	reason := Accepted
	if support, err := f.modes.IsSupportMode(ctx, userID); err != nil {
		slog.Warn("support mode lookup failed", "user", userID, "error", err)
	} else if support {
		reason = DropSupport
	}
	if reason == Accepted {
		if human, err := f.modes.IsHumanMode(ctx, userID); err != nil {
			slog.Warn("human mode lookup failed", "user", userID, "error", err)
		} else if human {
			reason = DropHuman
		}
	}
	if reason == Accepted {
		return reason
	}

	label := "HUMANO"
	if reason == DropSupport {
		label = "SOPORTE"
	}
	if displayName == "" {
		displayName = userID
	}
	entry := conversation.AuditEntry{
		Category: conversation.AuditSystem,
		Text:     fmt.Sprintf("Mensaje ignorado - Modo %s activo para %s (%s)", label, displayName, userID),
	}
	if err := f.audit.Record(ctx, entry); err != nil {
		slog.Warn("audit record failed", "error", err)
	}
	slog.Info("message ignored", "user", userID, "reason", string(reason))
	return reason
}
