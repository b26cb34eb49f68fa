package models

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// StoryPageCount is the fixed number of pages every generated story has.
const StoryPageCount = 3

// StoryPage is one page of a story. ImageURL is filled independently per page and stays empty when the
// illustration could not be generated.
type StoryPage struct {
	Text        string `json:"text"`
	ImagePrompt string `json:"imagePrompt"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Validate checks that the page carries both narrative text and an illustration description.
func (p StoryPage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Text, validation.Required.Error("text is required"), validation.By(notBlank)),
		validation.Field(&p.ImagePrompt, validation.Required.Error("imagePrompt is required"), validation.By(notBlank)),
	)
}

// Story is a generated children's story. A Story value is replaced, never mutated, once it has been handed out.
type Story struct {
	Title string      `json:"title"`
	Pages []StoryPage `json:"pages"`
}

// Validate checks the fixed story shape: a title and exactly StoryPageCount complete pages.
func (s Story) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Title, validation.Required.Error("title is required")),
		validation.Field(&s.Pages,
			validation.Required.Error("pages are required"),
			validation.Length(StoryPageCount, StoryPageCount).Error(fmt.Sprintf("story must have exactly %d pages", StoryPageCount)),
		),
	)
}

// WithPageImage returns a copy of the story where page idx has the given image URL.
// The receiver is left untouched.
func (s Story) WithPageImage(idx int, imageURL string) Story {
	pages := make([]StoryPage, len(s.Pages))
	copy(pages, s.Pages)
	if idx >= 0 && idx < len(pages) {
		pages[idx].ImageURL = imageURL
	}
	return Story{Title: s.Title, Pages: pages}
}

// Clone returns a deep copy of the story.
func (s Story) Clone() Story {
	pages := make([]StoryPage, len(s.Pages))
	copy(pages, s.Pages)
	return Story{Title: s.Title, Pages: pages}
}

// ImageSize selects illustration resolution.
type ImageSize string

const (
	ImageSize1K ImageSize = "1K"
	ImageSize2K ImageSize = "2K"
	ImageSize4K ImageSize = "4K"
)

// DefaultImageSize is used when no size is chosen.
const DefaultImageSize = ImageSize1K

// ImageSizes lists the supported sizes in display order.
var ImageSizes = []ImageSize{ImageSize1K, ImageSize2K, ImageSize4K}

// ParseImageSize parses "1K", "2K" or "4K" (case-insensitive). Empty input yields DefaultImageSize.
func ParseImageSize(s string) (ImageSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultImageSize, nil
	}
	for _, size := range ImageSizes {
		if string(size) == s {
			return size, nil
		}
	}
	return "", fmt.Errorf("invalid image size %q: must be one of 1K, 2K, 4K", s)
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one entry of the append-only chat transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry is the role/parts shape sent to the conversational model for one prior message.
type HistoryEntry struct {
	Role  Role     `json:"role"`
	Parts []string `json:"parts"`
}

// ToHistory translates a transcript into the role/parts history expected by the chat call.
func ToHistory(messages []ChatMessage) []HistoryEntry {
	history := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, HistoryEntry{Role: m.Role, Parts: []string{m.Text}})
	}
	return history
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return validation.NewError("validation_blank", "must not be blank")
	}
	return nil
}
