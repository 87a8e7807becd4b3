package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

type sessionKey struct{ user, chat string }

type memSession struct {
	mode       conversation.Mode
	lastActive time.Time
	turns      []conversation.Turn
}

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[sessionKey]*memSession
	modes    map[string]conversation.Mode
	audit    []conversation.AuditEntry
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		sessions: make(map[sessionKey]*memSession),
		modes:    make(map[string]conversation.Mode),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) session(user, chat string) *memSession {
	k := sessionKey{user, chat}
	s, ok := m.sessions[k]
	if !ok {
		s = &memSession{mode: conversation.ModeNormal, lastActive: m.now()}
		m.sessions[k] = s
	}
	return s
}

func (m *Memory) AppendTurn(_ context.Context, turn conversation.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = m.now()
	}
	s := m.session(turn.UserID, turn.ChatID)
	s.turns = append(s.turns, turn)
	s.lastActive = turn.CreatedAt
	return nil
}

func (m *Memory) History(_ context.Context, userID, chatID string, limit int) ([]conversation.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey{userID, chatID}]
	if !ok {
		return nil, nil
	}
	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]conversation.Turn(nil), turns...), nil
}

func (m *Memory) SetSessionMode(_ context.Context, userID, chatID string, mode conversation.Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(userID, chatID).mode = mode
	return nil
}

func (m *Memory) PruneIdle(_ context.Context, idle time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-idle)
	n := 0
	for k, s := range m.sessions {
		if s.lastActive.Before(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Mode(_ context.Context, userID string) (conversation.Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode, ok := m.modes[userID]; ok {
		return mode, nil
	}
	return conversation.ModeNormal, nil
}

func (m *Memory) IsHumanMode(ctx context.Context, userID string) (bool, error) {
	return hasMode(ctx, m, userID, conversation.ModeHuman)
}

func (m *Memory) IsSupportMode(ctx context.Context, userID string) (bool, error) {
	return hasMode(ctx, m, userID, conversation.ModeSupport)
}

func (m *Memory) SetMode(_ context.Context, userID string, mode conversation.Mode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[userID] = mode
	return nil
}

func (m *Memory) Record(_ context.Context, e conversation.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	e.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, e)
	return nil
}

// RecentAudit returns the newest entries first.
func (m *Memory) RecentAudit(_ context.Context, limit int) ([]conversation.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]conversation.AuditEntry(nil), m.audit...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
