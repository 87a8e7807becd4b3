package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nous-labs/vacancy-bridge/internal/llm"
	"github.com/nous-labs/vacancy-bridge/internal/prompt"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// DefaultMaxHistory is how many turns are sent to the model.
const DefaultMaxHistory = 10

// Orchestrator produces the reply for one accepted message.
type Orchestrator struct {
	sessions   SessionStore
	modes      ModeStore
	audit      AuditLog
	llm        Generator
	data       Enricher
	profile    prompt.Profile
	maxHistory int
	now        func() time.Time
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Sessions   SessionStore
	Modes      ModeStore
	Audit      AuditLog
	LLM        Generator
	Data       Enricher
	Profile    prompt.Profile
	MaxHistory int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Profile.SupportMarker == "" {
		cfg.Profile.SupportMarker = prompt.SupportMarker
	}
	return &Orchestrator{
		sessions:   cfg.Sessions,
		modes:      cfg.Modes,
		audit:      cfg.Audit,
		llm:        cfg.LLM,
		data:       cfg.Data,
		profile:    cfg.Profile,
		maxHistory: cfg.MaxHistory,
		now:        time.Now,
	}
}

// Handle appends the user's turn, asks the model and appends its answer.
// A reply carrying the support marker moves the user to support mode and is
// returned without the marker.
func (o *Orchestrator) Handle(ctx context.Context, userID, text, chatID string) (string, error) {
	if err := o.append(ctx, userID, chatID, conversation.RoleUser, text); err != nil {
		return "", err
	}

	history, err := o.sessions.History(ctx, userID, chatID, o.maxHistory)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: o.profile.System(o.data.Enrichment(ctx))})
	for _, t := range history {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}

	reply, err := o.llm.Generate(ctx, messages)
	if err != nil {
		return "", err
	}

	marker := o.profile.SupportMarker
	if !strings.Contains(reply, marker) {
		if err := o.append(ctx, userID, chatID, conversation.RoleAssistant, reply); err != nil {
			return "", err
		}
		return reply, nil
	}

	clean := strings.TrimSpace(strings.Replace(reply, marker, "", 1))
	if err := o.modes.SetMode(ctx, userID, conversation.ModeSupport); err != nil {
		return "", fmt.Errorf("set support mode: %w", err)
	}
	if err := o.sessions.SetSessionMode(ctx, userID, chatID, conversation.ModeSupport); err != nil {
		return "", fmt.Errorf("set session mode: %w", err)
	}
	if err := o.append(ctx, userID, chatID, conversation.RoleAssistant, clean); err != nil {
		return "", err
	}

	slog.Info("support mode activated", "user", userID)
	entry := conversation.AuditEntry{
		Category: conversation.AuditSystem,
		Text:     "Modo SOPORTE activado automáticamente para " + userID,
		UserID:   userID,
	}
	if err := o.audit.Record(ctx, entry); err != nil {
		slog.Warn("audit record failed", "error", err)
	}
	return clean, nil
}

func (o *Orchestrator) append(ctx context.Context, userID, chatID string, role conversation.Role, content string) error {
	turn := conversation.Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: o.now(),
	}
	if err := o.sessions.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("append %s turn: %w", role, err)
	}
	return nil
}
