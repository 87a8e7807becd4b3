// Package whatsapp implements the WhatsApp transport with whatsmeow. Device
// credentials live in a SQLite database inside the credential directory, so
// clearing the directory unlinks the bridge locally.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

const deviceDB = "device.db"

// Close codes for conditions whatsmeow reports as events rather than codes.
const (
	codeConnectionClosed   = 428
	codeConnectionReplaced = 440
	codeClientOutdated     = 405
	codeTempBanned         = 402
	codePairingTimeout     = 408
	codePairingFailed      = 500
)

// Transport builds WhatsApp sessions.
type Transport struct{}

// New creates a WhatsApp transport.
func New() *Transport { return &Transport{} }

// Name returns the transport identifier.
func (t *Transport) Name() string { return "whatsapp" }

// Connect opens the device store, creates a client and connects it. A
// device without an ID starts pairing and emits QR challenges.
func (t *Transport) Connect(ctx context.Context, creds channel.CredentialStore) (channel.Session, <-chan channel.Event, error) {
	if err := os.MkdirAll(creds.Path(), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create credential dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", filepath.Join(creds.Path(), deviceDB))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open device db: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite", newLogger("Database"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("upgrade device db: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, newLogger("Client"))
	// Reconnects are owned by the lifecycle manager.
	cli.EnableAutoReconnect = false

	s := &session{
		cli:    cli,
		db:     db,
		events: make(chan channel.Event, 32),
		done:   make(chan struct{}),
	}
	cli.AddEventHandler(s.handle)

	if cli.Store.ID == nil {
		qr, err := cli.GetQRChannel(ctx)
		if err != nil {
			s.teardown()
			return nil, nil, fmt.Errorf("get qr channel: %w", err)
		}
		go s.pumpQR(qr)
	}

	s.emit(channel.StatusUpdate{Status: channel.StatusConnecting})
	if err := cli.Connect(); err != nil {
		s.teardown()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return s, s.events, nil
}

type session struct {
	cli *whatsmeow.Client
	db  *sql.DB

	events chan channel.Event
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	endOnce sync.Once
	tdOnce  sync.Once
}

func (s *session) handle(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		slog.Info("whatsapp connected", "jid", s.cli.Store.ID)
		s.emit(channel.StatusUpdate{Status: channel.StatusOpen})
	case *events.PairSuccess:
		slog.Info("whatsapp device paired", "jid", e.ID, "platform", e.Platform)
	case *events.Message:
		s.emit(channel.Inbound{Messages: []channel.Message{convert(e)}})
	case *events.LoggedOut:
		if e.OnConnect {
			s.finish(channel.StatusUpdate{Code: int(e.Reason), Err: fmt.Errorf("logged out on connect: %v", e.Reason)})
		} else {
			s.finish(channel.StatusUpdate{LoggedOut: true, Code: int(e.Reason), Err: fmt.Errorf("logged out: %v", e.Reason)})
		}
	case *events.ConnectFailure:
		s.finish(channel.StatusUpdate{Code: int(e.Reason), Err: fmt.Errorf("connect failure: %v %s", e.Reason, e.Message)})
	case *events.StreamError:
		code, _ := strconv.Atoi(e.Code)
		s.finish(channel.StatusUpdate{Code: code, Err: fmt.Errorf("stream error %s", e.Code)})
	case *events.ClientOutdated:
		s.finish(channel.StatusUpdate{Code: codeClientOutdated, Err: fmt.Errorf("client outdated")})
	case *events.TemporaryBan:
		s.finish(channel.StatusUpdate{Code: codeTempBanned, Err: fmt.Errorf("temporary ban: %v", e)})
	case *events.StreamReplaced:
		s.finish(channel.StatusUpdate{Code: codeConnectionReplaced, Err: fmt.Errorf("stream replaced by another connection")})
	case *events.Disconnected:
		s.finish(channel.StatusUpdate{Code: codeConnectionClosed, Err: fmt.Errorf("connection closed")})
	}
}

func (s *session) pumpQR(qr <-chan whatsmeow.QRChannelItem) {
	for item := range qr {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(channel.QRChallenge{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
		case whatsmeow.QRChannelTimeout.Event:
			s.finish(channel.StatusUpdate{Code: codePairingTimeout, Err: fmt.Errorf("pairing timed out")})
		default:
			err := item.Error
			if err == nil {
				err = fmt.Errorf("pairing failed: %s", item.Event)
			}
			s.finish(channel.StatusUpdate{Code: codePairingFailed, Err: err})
		}
	}
}

// emit delivers an event unless the session already closed or ended.
func (s *session) emit(ev channel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// finish delivers the final close status and closes the event channel.
func (s *session) finish(u channel.StatusUpdate) {
	u.Status = channel.StatusClosed
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.events <- u:
	case <-s.done:
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	// whatsmeow must not be disconnected from inside its own event handler.
	go s.teardown()
}

func (s *session) teardown() {
	s.tdOnce.Do(func() {
		if s.cli != nil {
			s.cli.Disconnect()
		}
		if s.db == nil {
			return
		}
		if err := s.db.Close(); err != nil {
			slog.Warn("close device db", "error", err)
		}
	})
}

// Send sends a plain text message to a JID string.
func (s *session) Send(ctx context.Context, address, text string) error {
	jid, err := types.ParseJID(address)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", address, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := s.cli.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	slog.Info("whatsapp message sent", "to", jid.User, "len", len(text))
	return nil
}

// Logout unlinks the device from the account.
func (s *session) Logout(ctx context.Context) error {
	if err := s.cli.Logout(ctx); err != nil {
		return fmt.Errorf("whatsapp logout: %w", err)
	}
	return nil
}

// End disconnects without logging out.
func (s *session) End() {
	s.endOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.events)
		}
		s.mu.Unlock()
		s.teardown()
	})
}
