// Package events carries session state-change notifications to subscribers.
package events

import (
	"context"
	"errors"
	"time"
)

// Type names a state change.
type Type string

const (
	StoryPhase      Type = "story.phase"
	StoryReady      Type = "story.ready"
	StoryFailed     Type = "story.failed"
	NarrationReady  Type = "narration.ready"
	NarrationFailed Type = "narration.failed"
	ChatReply       Type = "chat.reply"
	GateChanged     Type = "gate.changed"
)

// Event is one notification. It never carries generated content (text, images, audio).
type Event struct {
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	Page      *int      `json:"page,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// New returns an event stamped with the current time.
func New(sessionID string, typ Type) Event {
	return Event{SessionID: sessionID, Type: typ, At: time.Now().UTC()}
}

// WithPage sets the page index.
func (e Event) WithPage(page int) Event {
	e.Page = &page
	return e
}

// WithPhase sets the phase.
func (e Event) WithPhase(phase string) Event {
	e.Phase = phase
	return e
}

// WithMessage sets the user-facing message.
func (e Event) WithMessage(msg string) Event {
	e.Message = msg
	return e
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
