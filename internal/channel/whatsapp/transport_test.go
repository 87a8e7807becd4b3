package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

func newTestSession() *session {
	return &session{events: make(chan channel.Event, 8), done: make(chan struct{})}
}

func drain(t *testing.T, s *session) []channel.Event {
	t.Helper()
	var out []channel.Event
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatal("event channel not closed")
		}
	}
}

func TestCloseEventsMapToCodes(t *testing.T) {
	tests := []struct {
		name      string
		evt       any
		code      int
		loggedOut bool
	}{
		{"stream error", &events.StreamError{Code: "515"}, 515, false},
		{"disconnected", &events.Disconnected{}, 428, false},
		{"replaced", &events.StreamReplaced{}, 440, false},
		{"outdated", &events.ClientOutdated{}, 405, false},
		{"temp ban", &events.TemporaryBan{}, 402, false},
		{"connect failure", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, 401, false},
		{"logged out on connect", &events.LoggedOut{OnConnect: true, Reason: events.ConnectFailureLoggedOut}, 401, false},
		{"logged out in session", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, 401, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			s.handle(tt.evt)
			// A second close is ignored.
			s.handle(&events.Disconnected{})

			got := drain(t, s)
			require.Len(t, got, 1)
			u, ok := got[0].(channel.StatusUpdate)
			require.True(t, ok)
			assert.Equal(t, channel.StatusClosed, u.Status)
			assert.Equal(t, tt.code, u.Code)
			assert.Equal(t, tt.loggedOut, u.LoggedOut)
			assert.Error(t, u.Err)
		})
	}
}

func TestEndClosesEventsOnce(t *testing.T) {
	s := newTestSession()
	s.End()
	s.End()
	s.handle(&events.Disconnected{})
	assert.Empty(t, drain(t, s))
}

func TestPumpQR(t *testing.T) {
	s := newTestSession()
	qr := make(chan whatsmeow.QRChannelItem, 3)
	qr <- whatsmeow.QRChannelItem{Event: "code", Code: "2@abc"}
	qr <- whatsmeow.QRChannelItem{Event: "timeout"}
	close(qr)

	s.pumpQR(qr)

	got := drain(t, s)
	require.Len(t, got, 2)
	assert.Equal(t, channel.QRChallenge{Code: "2@abc"}, got[0])
	assert.Equal(t, 408, got[1].(channel.StatusUpdate).Code)
}

func TestConvert(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	direct := convert(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5215512345678", types.DefaultUserServer),
				Sender: types.NewJID("5215512345678", types.DefaultUserServer),
			},
			ID:        "3EB0ABC",
			PushName:  "Ana",
			Timestamp: ts,
		},
		Message: &waE2E.Message{Conversation: proto.String("hola")},
	})
	assert.Equal(t, channel.Message{
		ID:          "3EB0ABC",
		Address:     "5215512345678@s.whatsapp.net",
		DisplayName: "Ana",
		Text:        "hola",
		Timestamp:   ts.UnixMilli(),
	}, direct)

	linked := convert(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:      types.NewJID("123456789", types.HiddenUserServer),
				Sender:    types.NewJID("123456789", types.HiddenUserServer),
				SenderAlt: types.NewJID("5215512345678", types.DefaultUserServer),
			},
		},
		Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("info")}},
	})
	assert.Equal(t, "123456789@lid", linked.Address)
	assert.Equal(t, "5215512345678@s.whatsapp.net", linked.RealAddress)
	assert.Equal(t, "info", linked.Text)

	group := convert(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    types.NewJID("120363000000", types.GroupServer),
				IsGroup: true,
			},
		},
	})
	assert.True(t, group.IsGroup)
	assert.Empty(t, group.Text)
}
