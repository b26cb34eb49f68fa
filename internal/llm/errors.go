package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoText is returned when the model response contains no text.
	ErrNoText = errors.New("no text returned from model")
	// ErrNoImage is returned when the response contains no inline image part.
	ErrNoImage = errors.New("no image generated")
	// ErrNoAudio is returned when the response contains no audio payload.
	ErrNoAudio = errors.New("no audio generated")
	// ErrMalformedStory is returned when the story JSON cannot be parsed or has the wrong shape.
	ErrMalformedStory = errors.New("malformed story document")
)

// Kind names which generation call failed.
type Kind string

const (
	KindStory  Kind = "story"
	KindImage  Kind = "image"
	KindSpeech Kind = "speech"
	KindChat   Kind = "chat"
)

// GenerationError is returned by every generation call that reached the model (or tried to) and failed.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func generationError(kind Kind, err error) error {
	return &GenerationError{Kind: kind, Err: err}
}

// IsKind reports whether err is a GenerationError of the given kind.
func IsKind(err error, kind Kind) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Kind == kind
}
