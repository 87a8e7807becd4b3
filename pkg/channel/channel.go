// Package channel defines the contract between the bridge and a chat transport.
// A transport (WhatsApp, Matrix) owns the wire protocol; the bridge only sees
// sessions, the events they emit, and the messages it can send through them.
package channel

import "context"

// Message is a single inbound chat message as observed by the transport.
type Message struct {
	// ID is the transport's message identifier (informational only).
	ID string

	// Address is the raw sender/chat address, e.g. "5215512345678@s.whatsapp.net"
	// or "123456789@lid".
	Address string

	// RealAddress is set for anonymized/linked senders when the transport
	// knows the underlying address. Empty otherwise.
	RealAddress string

	// DisplayName is the sender's self-chosen name, may be empty.
	DisplayName string

	// Text is the message body. Empty for media-only or system messages.
	Text string

	// FromMe is true for messages sent by the bridge's own account.
	FromMe bool

	// IsGroup is true when the message was posted in a group context.
	IsGroup bool

	// Timestamp is the message timestamp in milliseconds.
	Timestamp int64
}

// Status is the connection status reported by a transport session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// Event is anything a session delivers on its event channel:
// CredentialsUpdated, StatusUpdate, QRChallenge or Inbound.
type Event interface {
	isEvent()
}

// CredentialsUpdated is emitted when the transport has new credential state
// that should be persisted. Data may be nil when the transport persists it
// itself (e.g. into a database inside the credential directory).
type CredentialsUpdated struct {
	Key  string
	Data []byte
}

// StatusUpdate reports a connection status change. Code and LoggedOut are only
// meaningful for StatusClosed.
type StatusUpdate struct {
	Status Status

	// Code is the transport status code associated with a close
	// (401, 403, 405, 515, 428, ...). Zero when unknown.
	Code int

	// LoggedOut is true when the account was explicitly logged out
	// (device unlinked by the user). Terminal.
	LoggedOut bool

	// Err carries the underlying cause, for logging.
	Err error
}

// QRChallenge carries a pairing challenge that must be scanned by the user.
type QRChallenge struct {
	Code string
}

// Inbound carries a batch of inbound messages.
type Inbound struct {
	Messages []Message
}

func (CredentialsUpdated) isEvent() {}
func (StatusUpdate) isEvent()       {}
func (QRChallenge) isEvent()        {}
func (Inbound) isEvent()            {}

// Sender sends a text message to an address.
type Sender interface {
	Send(ctx context.Context, address, text string) error
}

// Session is a live, authenticated (or pairing) link to the chat network.
type Session interface {
	Sender

	// Logout unlinks the account from the network.
	Logout(ctx context.Context) error

	// End closes the connection without logging out.
	End()
}

// CredentialStore persists transport credentials between runs.
type CredentialStore interface {
	// Path is the directory that holds all credential state.
	Path() string
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	// Clear removes all stored credentials. Idempotent.
	Clear() error
}

// Transport builds sessions. The returned event channel is closed by the
// transport after the session's final StatusClosed event.
type Transport interface {
	// Name returns the transport identifier (e.g., "whatsapp").
	Name() string

	Connect(ctx context.Context, creds CredentialStore) (Session, <-chan Event, error)
}
