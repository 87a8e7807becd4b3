package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nous-labs/vacancy-bridge/internal/llm"
	"github.com/nous-labs/vacancy-bridge/internal/prompt"
	"github.com/nous-labs/vacancy-bridge/internal/store"
	"github.com/nous-labs/vacancy-bridge/pkg/channel"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]llm.Message
}

func (s *stubLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	return s.reply, s.err
}

type staticData string

func (d staticData) Enrichment(context.Context) string { return string(d) }

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordingSender) Send(_ context.Context, address, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, address+"|"+text)
	return r.err
}

type failingModes struct{ *store.Memory }

func (failingModes) IsSupportMode(context.Context, string) (bool, error) {
	return false, errors.New("db locked")
}

type env struct {
	st     *store.Memory
	llm    *stubLLM
	sender *recordingSender
	p      *Pipeline
}

func newEnv(reply string, err error) *env {
	st := store.NewMemory()
	gen := &stubLLM{reply: reply, err: err}
	profile := prompt.Default()
	orch := NewOrchestrator(OrchestratorConfig{
		Sessions: st, Modes: st, Audit: st, LLM: gen,
		Data:    staticData("VACANTES DISPONIBLES:\n\n1. Cajero\n"),
		Profile: profile,
	})
	return &env{
		st:     st,
		llm:    gen,
		sender: &recordingSender{},
		p:      NewPipeline(NewFilter(st, st), orch, st, nil, profile),
	}
}

func (e *env) audit(t *testing.T) []conversation.AuditEntry {
	t.Helper()
	entries, err := e.st.RecentAudit(context.Background(), 50)
	require.NoError(t, err)
	return entries
}

func TestResolveUserID(t *testing.T) {
	tests := []struct {
		name string
		msg  channel.Message
		want string
	}{
		{"linked with real address", channel.Message{Address: "123456@lid", RealAddress: "5215512345678@s.whatsapp.net"}, "5215512345678"},
		{"linked without real address", channel.Message{Address: "123456@lid"}, "123456"},
		{"direct", channel.Message{Address: "5215512345678@s.whatsapp.net"}, "5215512345678"},
		{"matrix id keeps leading @", channel.Message{Address: "@ana:matrix.org"}, "@ana:matrix.org"},
		{"last @ wins", channel.Message{Address: "a@b@c"}, "a@b"},
		{"no server", channel.Message{Address: "plain"}, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveUserID(tt.msg))
		})
	}
}

func TestFilterScreen(t *testing.T) {
	f := NewFilter(store.NewMemory(), store.NewMemory())
	base := channel.Message{Address: "521@s.whatsapp.net", Text: "hola"}

	assert.Equal(t, Accepted, f.Screen(base))

	self := base
	self.FromMe = true
	assert.Equal(t, DropSelf, f.Screen(self))

	group := base
	group.Address, group.IsGroup = "120363@g.us", true
	assert.Equal(t, DropGroup, f.Screen(group))

	for _, text := range []string{"", "   ", "\n\t"} {
		empty := base
		empty.Text = text
		assert.Equal(t, DropEmpty, f.Screen(empty), "%q", text)
	}
}

func TestFilterGateAuditsExcludedModes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	f := NewFilter(st, st)

	require.NoError(t, st.SetMode(ctx, "521", conversation.ModeHuman))
	require.NoError(t, st.SetMode(ctx, "522", conversation.ModeSupport))

	assert.Equal(t, DropHuman, f.Gate(ctx, "521", "Ana"))
	assert.Equal(t, DropSupport, f.Gate(ctx, "522", ""))
	assert.Equal(t, Accepted, f.Gate(ctx, "523", "Luis"))

	entries, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Mensaje ignorado - Modo SOPORTE activo para 522 (522)", entries[0].Text)
	assert.Equal(t, "Mensaje ignorado - Modo HUMANO activo para Ana (521)", entries[1].Text)
	assert.Equal(t, conversation.AuditSystem, entries[1].Category)
}

func TestFilterGateLookupFailureAccepts(t *testing.T) {
	st := store.NewMemory()
	f := NewFilter(failingModes{st}, st)
	assert.Equal(t, Accepted, f.Gate(context.Background(), "521", ""))
}

func TestEndToEndHola(t *testing.T) {
	ctx := context.Background()
	e := newEnv("¡Hola! Tenemos vacantes de cajero.", nil)

	e.p.HandleInbound(ctx, e.sender, channel.Message{Address: "521@s.whatsapp.net", DisplayName: "Ana", Text: "hola"})

	require.Equal(t, []string{"521@s.whatsapp.net|¡Hola! Tenemos vacantes de cajero."}, e.sender.sent)

	require.Len(t, e.llm.calls, 1)
	msgs := e.llm.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "[INFORMACIÓN ACTUALIZADA DE VACANTES]\nVACANTES DISPONIBLES:")
	assert.Contains(t, msgs[0].Content, "1. Cajero")
	assert.Contains(t, msgs[0].Content, "Usa ÚNICAMENTE la información")
	assert.Equal(t, llm.Message{Role: "user", Content: "hola"}, msgs[1])

	history, err := e.st.History(ctx, "521", "521@s.whatsapp.net", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "¡Hola! Tenemos vacantes de cajero.", history[1].Content)

	entries := e.audit(t)
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.AuditBot, entries[0].Category)
	assert.Equal(t, conversation.AuditClient, entries[1].Category)
	assert.Equal(t, "Ana", entries[1].DisplayName)
}

func TestSupportMarkerSwitchesMode(t *testing.T) {
	ctx := context.Background()
	e := newEnv("  Un asesor te atenderá en breve. {{ACTIVAR_SOPORTE}}  ", nil)

	e.p.HandleInbound(ctx, e.sender, channel.Message{Address: "521@s.whatsapp.net", Text: "quiero hablar con alguien"})

	assert.Equal(t, []string{"521@s.whatsapp.net|Un asesor te atenderá en breve."}, e.sender.sent)

	support, err := e.st.IsSupportMode(ctx, "521")
	require.NoError(t, err)
	assert.True(t, support)

	history, err := e.st.History(ctx, "521", "521@s.whatsapp.net", 10)
	require.NoError(t, err)
	assert.Equal(t, "Un asesor te atenderá en breve.", history[len(history)-1].Content)

	// The next message is gated.
	e.p.HandleInbound(ctx, e.sender, channel.Message{Address: "521@s.whatsapp.net", Text: "¿hola?"})
	assert.Len(t, e.sender.sent, 1)
	assert.Len(t, e.llm.calls, 1)
}

func TestHistoryIsSentToModel(t *testing.T) {
	ctx := context.Background()
	e := newEnv("ok", nil)
	msg := channel.Message{Address: "521@s.whatsapp.net", Text: "primera"}

	e.p.HandleInbound(ctx, e.sender, msg)
	msg.Text = "segunda"
	e.p.HandleInbound(ctx, e.sender, msg)

	require.Len(t, e.llm.calls, 2)
	last := e.llm.calls[1]
	require.Len(t, last, 4)
	assert.Equal(t, "primera", last[1].Content)
	assert.Equal(t, "assistant", last[2].Role)
	assert.Equal(t, "segunda", last[3].Content)
}

func TestDroppedMessagesNeverReachModel(t *testing.T) {
	ctx := context.Background()
	e := newEnv("ok", nil)

	e.p.HandleInbound(ctx, e.sender, channel.Message{Address: "521@s.whatsapp.net", Text: "hola", FromMe: true})
	e.p.HandleInbound(ctx, e.sender, channel.Message{Address: "120363@g.us", Text: "hola", IsGroup: true})
	e.p.HandleInbound(ctx, e.sender, channel.Message{Address: "521@s.whatsapp.net", Text: "  "})

	assert.Empty(t, e.llm.calls)
	assert.Empty(t, e.sender.sent)
	assert.Empty(t, e.audit(t))
}

func TestFailureSendsApology(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"generation", &llm.ProviderError{Message: "boom", StatusCode: 500, Kind: llm.ErrGeneration}, "Lo siento, ocurrió un error. Inténtalo de nuevo."},
		{"authentication", fmt.Errorf("router: %w", &llm.ProviderError{Message: "bad key", StatusCode: 401, Kind: llm.ErrAuthentication}), "Error de configuración del bot. Por favor, contacta al administrador."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv("", tt.err)

			e.p.HandleInbound(context.Background(), e.sender, channel.Message{Address: "999@lid", RealAddress: "521@s.whatsapp.net", Text: "hola"})

			assert.Equal(t, []string{"999@lid|" + tt.want}, e.sender.sent)
			entries := e.audit(t)
			require.NotEmpty(t, entries)
			assert.Equal(t, conversation.AuditError, entries[0].Category)
			assert.Equal(t, "521", entries[0].UserID)
		})
	}
}

func TestSendFailureIsOnlyLogged(t *testing.T) {
	e := newEnv("respuesta", nil)
	e.sender.err = errors.New("not connected")

	e.p.HandleInbound(context.Background(), e.sender, channel.Message{Address: "521@s.whatsapp.net", Text: "hola"})

	assert.Len(t, e.sender.sent, 1, "no apology after a failed send")
	for _, entry := range e.audit(t) {
		assert.NotEqual(t, conversation.AuditBot, entry.Category)
	}
}

func TestAsksAboutVacancies(t *testing.T) {
	assert.True(t, AsksAboutVacancies("¿Hay TRABAJO de cajero?"))
	assert.True(t, AsksAboutVacancies("cuál es el sueldo"))
	assert.False(t, AsksAboutVacancies("hola, buenos días"))
}
