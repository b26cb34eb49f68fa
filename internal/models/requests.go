package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CreateStoryRequest represents a request to generate a new story
type CreateStoryRequest struct {
	Topic     string `json:"topic"`
	ImageSize string `json:"image_size,omitempty"` // 1K (default), 2K, 4K
}

// Validate validates the story request
func (r CreateStoryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Topic,
			validation.Required.Error("topic is required"),
			validation.By(notBlank),
			validation.Length(1, 500).Error("topic must be at most 500 characters"),
		),
		validation.Field(&r.ImageSize,
			validation.In("1K", "2K", "4K", "1k", "2k", "4k").Error("image_size must be one of 1K, 2K, 4K"),
		),
	)
}

// SendChatRequest represents a chat submission
type SendChatRequest struct {
	Message string `json:"message"`
}

// Validate validates the chat request
func (r SendChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message,
			validation.Required.Error("message is required"),
			validation.By(notBlank),
			validation.Length(1, 4000).Error("message must be at most 4000 characters"),
		),
	)
}

// SelectKeyRequest starts the credential selection flow. APIKey is optional when the
// server runs with its own key.
type SelectKeyRequest struct {
	APIKey string `json:"api_key,omitempty"`
}

// GateResponse reports the credential gate state
type GateResponse struct {
	State string `json:"state"` // loading, locked, unlocked
	Alert string `json:"alert,omitempty"`
}

// CreateSessionResponse is returned when a session is created
type CreateSessionResponse struct {
	SessionID string       `json:"session_id"`
	Gate      GateResponse `json:"gate"`
	CreatedAt time.Time    `json:"created_at"`
}

// StoryResponse is the displayed story view of a session
type StoryResponse struct {
	Phase        string `json:"phase"`          // idle, writing, illustrating
	Step         string `json:"step,omitempty"` // user-facing loading label
	Story        *Story `json:"story,omitempty"`
	AudioPages   []int  `json:"audio_pages"`   // pages with narration ready
	LoadingAudio []int  `json:"loading_audio"` // pages with narration in flight
}

// ChatResponse is the chat view of a session
type ChatResponse struct {
	Messages []ChatMessage `json:"messages"`
	Typing   bool          `json:"typing"`
}
