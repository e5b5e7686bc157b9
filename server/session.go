package server

import (
	"strings"
	"time"

	"github.com/benothman/xnio"
	"github.com/google/uuid"
)

// SessionPrefix is the path prefix of the handshake request,
// as in "POST /session-<client id>".
const SessionPrefix = "/session-"

// Session is the state of one established connection. It is owned by the
// Handler of that connection and never shared.
type Session struct {
	ID       string
	ClientID string
	Created  time.Time

	// Scratch holds request bytes not yet answered.
	Scratch *xnio.ByteBuffer

	// Plan is the response in flight, nil when nothing is being written.
	Plan *WritePlan
}

func newSession(clientID string, scratch *xnio.ByteBuffer) *Session {
	return &Session{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Created:  time.Now(),
		Scratch:  scratch,
	}
}

// ParseClientID extracts the client id from a handshake line. It returns an
// empty string when the line does not follow "POST /session-<id>".
func ParseClientID(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	id, ok := strings.CutPrefix(fields[1], SessionPrefix)
	if !ok {
		return ""
	}
	return id
}
