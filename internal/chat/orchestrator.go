// Package chat keeps a session's append-only transcript with the assistant.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/models"
)

// WelcomeMessage opens every transcript.
const WelcomeMessage = "Hi there! I'm your StoryTime pal. Ask me anything!"

// ErrorReply is appended in place of a reply when the chat call fails.
const ErrorReply = "Oops! I got a little confused. Can you say that again?"

// ErrBusy is returned when a message is submitted while a reply is still pending.
var ErrBusy = errors.New("a reply is already pending")

// Replier is the conversational call.
type Replier interface {
	ChatReply(ctx context.Context, key credential.Key, message string, history []models.HistoryEntry) (string, error)
}

// Orchestrator owns one transcript. At most one reply is in flight.
type Orchestrator struct {
	replier   Replier
	provider  credential.Provider
	sessionID string
	pub       events.Publisher
	now       func() time.Time

	mu         sync.RWMutex
	transcript []models.ChatMessage
	typing     bool
}

// NewOrchestrator returns an orchestrator whose transcript holds only the welcome message.
func NewOrchestrator(replier Replier, provider credential.Provider, sessionID string, pub events.Publisher) *Orchestrator {
	o := &Orchestrator{
		replier:   replier,
		provider:  provider,
		sessionID: sessionID,
		pub:       events.OrNop(pub),
		now:       time.Now,
	}
	o.transcript = []models.ChatMessage{o.message(models.RoleModel, WelcomeMessage)}
	return o
}

// Send appends input as a user message, asks for a reply and appends it.
// Blank input is a no-op and returns (nil, nil). A submission while a reply is pending returns ErrBusy.
// A failed call appends ErrorReply instead of surfacing the error; the returned message is the one appended.
func (o *Orchestrator) Send(ctx context.Context, input string) (*models.ChatMessage, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, nil
	}

	o.mu.Lock()
	if o.typing {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	// History is everything before the new message.
	history := models.ToHistory(o.transcript)
	o.transcript = append(o.transcript, o.message(models.RoleUser, text))
	o.typing = true
	o.mu.Unlock()

	reply, err := o.reply(ctx, text, history)
	if err != nil {
		log.Warn().Err(err).Str("session_id", o.sessionID).Msg("Chat reply failed")
		reply = ErrorReply
	}
	msg := o.message(models.RoleModel, reply)

	o.mu.Lock()
	o.transcript = append(o.transcript, msg)
	o.typing = false
	o.mu.Unlock()

	if err := o.pub.Publish(ctx, events.New(o.sessionID, events.ChatReply)); err != nil {
		log.Warn().Err(err).Str("session_id", o.sessionID).Msg("Failed to publish event")
	}
	return &msg, nil
}

func (o *Orchestrator) reply(ctx context.Context, text string, history []models.HistoryEntry) (string, error) {
	key, err := credential.Resolve(ctx, o.provider)
	if err != nil {
		return "", err
	}
	return o.replier.ChatReply(ctx, key, text, history)
}

// Transcript returns a copy of the transcript in order.
func (o *Orchestrator) Transcript() []models.ChatMessage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.ChatMessage, len(o.transcript))
	copy(out, o.transcript)
	return out
}

// Typing reports whether a reply is pending.
func (o *Orchestrator) Typing() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.typing
}

func (o *Orchestrator) message(role models.Role, text string) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: o.now().UTC(),
	}
}
