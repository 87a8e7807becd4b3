package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nous-labs/vacancy-bridge/internal/events"
	"github.com/nous-labs/vacancy-bridge/internal/llm"
	"github.com/nous-labs/vacancy-bridge/internal/prompt"
	"github.com/nous-labs/vacancy-bridge/pkg/channel"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

// Replier produces the reply text for an accepted message.
type Replier interface {
	Handle(ctx context.Context, userID, text, chatID string) (string, error)
}

// Pipeline wires the filter and the orchestrator to a sender.
type Pipeline struct {
	filter  *Filter
	replier Replier
	audit   AuditLog
	events  events.Publisher
	profile prompt.Profile
}

// NewPipeline creates a Pipeline. A nil publisher discards events.
func NewPipeline(filter *Filter, replier Replier, audit AuditLog, pub events.Publisher, profile prompt.Profile) *Pipeline {
	if pub == nil {
		pub = events.Discard
	}
	return &Pipeline{filter: filter, replier: replier, audit: audit, events: pub, profile: profile}
}

// HandleInbound processes one inbound message end to end. It never returns
// an error: failures are answered with an apology and logged.
func (p *Pipeline) HandleInbound(ctx context.Context, sender channel.Sender, msg channel.Message) {
	if reason := p.filter.Screen(msg); reason != Accepted {
		slog.Debug("message dropped", "address", msg.Address, "reason", string(reason))
		return
	}

	userID := ResolveUserID(msg)
	name := msg.DisplayName
	if name == "" {
		name = userID
	}
	slog.Info("message received", "user", userID, "vacancy_intent", AsksAboutVacancies(msg.Text))
	p.record(ctx, conversation.AuditClient, msg.Text, userID, name)
	p.events.Publish(events.Event{Type: events.TypeChat, Role: string(conversation.RoleUser), UserID: userID, Content: msg.Text})

	if reason := p.filter.Gate(ctx, userID, name); reason != Accepted {
		return
	}

	reply, err := p.replier.Handle(ctx, userID, msg.Text, msg.Address)
	if err != nil {
		p.fail(ctx, sender, msg, err)
		return
	}
	if err := sender.Send(ctx, msg.Address, reply); err != nil {
		slog.Error("send reply", "user", userID, "error", err)
		return
	}

	slog.Info("reply sent", "user", userID)
	p.record(ctx, conversation.AuditBot, reply, userID, name)
	p.events.Publish(events.Event{Type: events.TypeChat, Role: string(conversation.RoleAssistant), UserID: userID, Content: reply})
}

func (p *Pipeline) fail(ctx context.Context, sender channel.Sender, msg channel.Message, cause error) {
	userID := ResolveUserID(msg)
	slog.Error("message processing failed", "user", userID, "error", cause)

	apology := p.profile.Apology
	if errors.Is(cause, llm.ErrAuthentication) {
		apology = p.profile.ConfigApology
	}
	if err := sender.Send(ctx, msg.Address, apology); err != nil {
		slog.Error("send apology", "user", userID, "error", err)
		return
	}
	p.record(ctx, conversation.AuditError, cause.Error(), userID, "")
	p.events.Publish(events.Event{Type: events.TypeError, Message: cause.Error(), UserID: userID, Level: "error"})
}

func (p *Pipeline) record(ctx context.Context, category, text, userID, name string) {
	entry := conversation.AuditEntry{Category: category, Text: text, UserID: userID, DisplayName: name}
	if err := p.audit.Record(ctx, entry); err != nil {
		slog.Warn("audit record failed", "category", category, "error", err)
	}
}
