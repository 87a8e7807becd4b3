package whatsapp

import (
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

// convert maps a whatsmeow message onto the transport-neutral Message.
// Senders addressed by LID expose their phone-number JID as RealAddress
// when WhatsApp provides it.
func convert(evt *events.Message) channel.Message {
	info := evt.Info

	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}

	msg := channel.Message{
		ID:          string(info.ID),
		Address:     info.Chat.String(),
		DisplayName: info.PushName,
		Text:        text,
		FromMe:      info.IsFromMe,
		IsGroup:     info.IsGroup || info.Chat.Server == types.GroupServer,
		Timestamp:   info.Timestamp.UnixMilli(),
	}
	if info.Chat.Server == types.HiddenUserServer {
		alt := info.SenderAlt
		if alt.IsEmpty() && info.Sender.Server == types.DefaultUserServer {
			alt = info.Sender
		}
		if alt.Server == types.DefaultUserServer {
			msg.RealAddress = alt.ToNonAD().String()
		}
	}
	return msg
}
