// Package matrix implements the Matrix transport with mautrix-go. A session
// logs in (stored token or password), verifies the token, and syncs until
// the homeserver fails or the session is ended.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

const credentialsKey = "matrix_credentials.json"

// Config holds Matrix transport configuration.
type Config struct {
	Homeserver   string
	UserID       string // localpart, e.g. "vacantes"
	Password     string
	ServerName   string // e.g. "matrix.example.com"
	AllowedUsers []string
}

// Transport builds Matrix sessions.
type Transport struct {
	config Config
}

// credentials holds saved Matrix login state.
type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a Matrix transport.
func New(cfg Config) *Transport {
	return &Transport{config: cfg}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "matrix" }

// Connect creates a client and starts the session goroutine. Login happens
// inside the session so that its failures surface as close codes.
func (t *Transport) Connect(ctx context.Context, creds channel.CredentialStore) (channel.Session, <-chan channel.Event, error) {
	fullUserID := fmt.Sprintf("@%s:%s", t.config.UserID, t.config.ServerName)

	client, err := mautrix.NewClient(t.config.Homeserver, id.UserID(fullUserID), "")
	if err != nil {
		return nil, nil, fmt.Errorf("create matrix client: %w", err)
	}
	// Resync on restart is fine; only new messages matter.
	client.Store = mautrix.NewMemorySyncStore()

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		config:    t.config,
		client:    client,
		events:    make(chan channel.Event, 16),
		cancel:    cancel,
		startTime: time.Now().UnixMilli(),
		rooms:     make(map[id.RoomID]bool),
	}
	if data, err := creds.Load(credentialsKey); err == nil && len(data) > 0 {
		var c credentials
		if err := json.Unmarshal(data, &c); err != nil {
			slog.Warn("ignoring unreadable matrix credentials", "error", err)
		} else {
			s.saved = &c
		}
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, s.onMessage)
	syncer.OnEventType(event.StateMember, s.onMemberEvent)

	go s.run(sctx, fullUserID)
	return s, s.events, nil
}

type session struct {
	config    Config
	client    *mautrix.Client
	events    chan channel.Event
	cancel    context.CancelFunc
	startTime int64
	saved     *credentials

	mu    sync.Mutex
	rooms map[id.RoomID]bool // room -> is group
}

func (s *session) run(ctx context.Context, fullUserID string) {
	defer close(s.events)

	s.emit(ctx, channel.StatusUpdate{Status: channel.StatusConnecting})
	if err := s.login(ctx, fullUserID); err != nil {
		s.closed(ctx, err)
		return
	}
	if _, err := s.client.Whoami(ctx); err != nil {
		s.closed(ctx, fmt.Errorf("verify matrix token: %w", err))
		return
	}

	slog.Info("matrix session ready, starting sync", "user", s.client.UserID)
	s.emit(ctx, channel.StatusUpdate{Status: channel.StatusOpen})

	err := s.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("sync stopped")
	}
	s.closed(ctx, err)
}

// login uses the saved token if present, else logs in with the password and
// hands the new token to the lifecycle for persistence.
func (s *session) login(ctx context.Context, fullUserID string) error {
	if s.saved != nil && s.saved.AccessToken != "" {
		s.client.AccessToken = s.saved.AccessToken
		s.client.UserID = id.UserID(s.saved.UserID)
		s.client.DeviceID = id.DeviceID(s.saved.DeviceID)
		slog.Info("loaded saved Matrix credentials", "user", s.saved.UserID)
		return nil
	}

	slog.Info("logging into Matrix", "user", fullUserID, "homeserver", s.config.Homeserver)
	resp, err := s.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: s.config.UserID,
		},
		Password:         s.config.Password,
		StoreCredentials: true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	slog.Info("logged into Matrix", "user", resp.UserID, "device", resp.DeviceID)

	data, err := json.MarshalIndent(credentials{
		AccessToken: resp.AccessToken,
		UserID:      string(resp.UserID),
		DeviceID:    string(resp.DeviceID),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode matrix credentials: %w", err)
	}
	s.emit(ctx, channel.CredentialsUpdated{Key: credentialsKey, Data: data})
	return nil
}

func (s *session) closed(ctx context.Context, err error) {
	code := closeCode(err)
	slog.Warn("matrix session closed", "code", code, "error", err)
	s.emit(ctx, channel.StatusUpdate{Status: channel.StatusClosed, Code: code, Err: err})
}

// closeCode maps a mautrix error onto a status code. Rejected tokens and
// forbidden logins become auth failures.
func closeCode(err error) int {
	var httpErr *mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		return httpErr.Response.StatusCode
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "M_UNKNOWN_TOKEN"), strings.Contains(msg, "M_MISSING_TOKEN"):
		return 401
	case strings.Contains(msg, "M_FORBIDDEN"):
		return 403
	}
	return 0
}

func (s *session) emit(ctx context.Context, ev channel.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Send sends a message to a Matrix room, splitting long messages.
func (s *session) Send(ctx context.Context, address, text string) error {
	const maxLen = 4000
	roomID := id.RoomID(address)

	chunks := splitMessage(text, maxLen)
	for i, chunk := range chunks {
		prefix := ""
		if len(chunks) > 1 {
			prefix = fmt.Sprintf("[%d/%d] ", i+1, len(chunks))
		}
		if _, err := s.client.SendText(ctx, roomID, prefix+chunk); err != nil {
			slog.Error("matrix send failed", "room", roomID, "chunk", i+1, "error", err)
			return fmt.Errorf("matrix send: %w", err)
		}
		if i < len(chunks)-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	slog.Info("matrix message sent", "room", roomID, "chunks", len(chunks), "total_len", len(text))
	return nil
}

// Logout invalidates the access token on the homeserver.
func (s *session) Logout(ctx context.Context) error {
	if _, err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("matrix logout: %w", err)
	}
	return nil
}

// End stops syncing. The event channel closes once the loop returns.
func (s *session) End() {
	s.cancel()
	s.client.StopSync()
}

// --- Event Handlers ---

func (s *session) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == s.client.UserID {
		return
	}
	// Skip history replayed by the initial sync.
	if evt.Timestamp < s.startTime {
		return
	}
	if !s.isAllowed(evt.Sender) {
		return
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return
	}
	body := ""
	if content.MsgType == event.MsgText || content.MsgType == event.MsgNotice {
		body = content.Body
	}

	slog.Info("matrix message received", "sender", evt.Sender, "room", evt.RoomID, "content", truncate(body, 100))

	s.emit(ctx, channel.Inbound{Messages: []channel.Message{{
		ID:          string(evt.ID),
		Address:     string(evt.RoomID),
		RealAddress: string(evt.Sender),
		Text:        body,
		IsGroup:     s.isGroup(ctx, evt.RoomID),
		Timestamp:   evt.Timestamp,
	}}})
}

func (s *session) onMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(s.client.UserID) {
		return
	}

	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !s.isAllowed(evt.Sender) {
		slog.Warn("rejecting invite from unauthorized user", "sender", evt.Sender)
		return
	}

	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := s.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
}

// isGroup reports whether a room has more than two joined members. Lookup
// failures count as direct rooms and are not cached.
func (s *session) isGroup(ctx context.Context, roomID id.RoomID) bool {
	s.mu.Lock()
	group, ok := s.rooms[roomID]
	s.mu.Unlock()
	if ok {
		return group
	}

	resp, err := s.client.JoinedMembers(ctx, roomID)
	if err != nil {
		slog.Warn("matrix joined members lookup failed", "room", roomID, "error", err)
		return false
	}
	group = len(resp.Joined) > 2

	s.mu.Lock()
	s.rooms[roomID] = group
	s.mu.Unlock()
	return group
}

// --- Helpers ---

func (s *session) isAllowed(sender id.UserID) bool {
	return allowed(s.config.AllowedUsers, sender)
}

func allowed(list []string, sender id.UserID) bool {
	if len(list) == 0 || list[0] == "" {
		return true
	}
	for _, a := range list {
		if string(sender) == a {
			return true
		}
	}
	return false
}

// splitMessage cuts s into chunks of at most maxLen bytes, never inside a
// UTF-8 sequence.
func splitMessage(s string, maxLen int) []string {
	var chunks []string
	for len(s) > maxLen {
		cut := runeCut(s, maxLen)
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:runeCut(s, n)] + "..."
	}
	return s
}

// runeCut returns the largest offset <= n that starts a rune. A single rune
// longer than n is kept whole.
func runeCut(s string, n int) int {
	i := n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return i
}
