// Package event defines the records streamed by chatwatch. These are the
// public contract: the transport layer (websocket, webhook, journal) only
// ever sees these types.
package event

import (
	"strings"
	"time"
)

// Type tags an Event on the wire.
type Type string

const (
	TypeStatus  Type = "status"  // operational status of the watcher
	TypeMessage Type = "message" // a new message in the watched conversation
)

// Level is the severity of a status event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single tagged record. Status events carry Level and Message;
// message events carry From and Text. Events are immutable once emitted.
type Event struct {
	Type    Type      `json:"type"`
	Level   Level     `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	From    string    `json:"from,omitempty"`
	Text    string    `json:"text,omitempty"`
	At      time.Time `json:"at"`
}

// Status builds a status event stamped with the current time.
func Status(level Level, msg string) Event {
	return Event{Type: TypeStatus, Level: level, Message: msg, At: time.Now().UTC()}
}

// Message builds a message event stamped with the current time.
func Message(from, text string) Event {
	return Event{Type: TypeMessage, From: from, Text: text, At: time.Now().UTC()}
}

// Fingerprint is the identity used to suppress repeated emission of the
// same (sender, text) pair.
func Fingerprint(from, text string) string {
	return strings.TrimSpace(from) + "|" + strings.TrimSpace(text)
}

// Fingerprint returns the fingerprint of a message event. Status events
// have no meaningful fingerprint and return "".
func (e Event) Fingerprint() string {
	if e.Type != TypeMessage {
		return ""
	}
	return Fingerprint(e.From, e.Text)
}
