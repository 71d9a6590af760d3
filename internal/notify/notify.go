// Package notify pushes human-facing alerts to chat channels. Delivery is
// best-effort: a notification failure never fails the operation that
// triggered it.
package notify

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Message is one human-facing alert.
type Message struct {
	SessionID string
	Title     string // session title, may be empty
	Subject   string
	Body      string
}

// Notifier delivers a message to one destination.
type Notifier interface {
	Name() string
	Send(msg Message) error
}

// Fanout delivers to every configured notifier, logging failures instead of
// returning them.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout creates a Fanout over the given notifiers.
func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

// Add appends a notifier.
func (f *Fanout) Add(n Notifier) {
	f.notifiers = append(f.notifiers, n)
}

// Notify sends msg to every destination. Best-effort: errors are logged,
// not returned.
func (f *Fanout) Notify(msg Message) {
	for _, n := range f.notifiers {
		if err := n.Send(msg); err != nil {
			log.Printf("notify: %s: %v", n.Name(), err)
		}
	}
}

// AwaitingInput formats the alert for an agent pausing on a question.
func AwaitingInput(sessionID, title, question string, options []string, defaultAction string, expiresAt time.Time) Message {
	var b strings.Builder
	b.WriteString(question)
	if len(options) > 0 {
		b.WriteString("\nOptions: ")
		b.WriteString(strings.Join(options, " | "))
	}
	if defaultAction != "" {
		fmt.Fprintf(&b, "\nDefault %q applies at %s", defaultAction, expiresAt.Format(time.RFC3339))
	}
	return Message{
		SessionID: sessionID,
		Title:     title,
		Subject:   fmt.Sprintf("Session %s needs input", label(sessionID, title)),
		Body:      b.String(),
	}
}

// SessionError formats the alert for a session entering error.
func SessionError(sessionID, title, reason string) Message {
	return Message{
		SessionID: sessionID,
		Title:     title,
		Subject:   fmt.Sprintf("Session %s hit an error", label(sessionID, title)),
		Body:      reason,
	}
}

func label(sessionID, title string) string {
	if title != "" {
		return fmt.Sprintf("%q (%s)", title, sessionID)
	}
	return sessionID
}
