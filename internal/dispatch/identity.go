package dispatch

import (
	"strings"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

// ResolveUserID derives the canonical user id of a message sender. Linked
// (anonymized) senders resolve to their real address when the transport
// knows it. The server suffix is always stripped.
func ResolveUserID(msg channel.Message) string {
	addr := msg.Address
	if msg.RealAddress != "" {
		addr = msg.RealAddress
	}
	return stripServer(addr)
}

// stripServer drops everything from the last '@', unless the '@' is the
// first character.
func stripServer(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i > 0 {
		return addr[:i]
	}
	return addr
}
