// Package story runs the per-topic workflow: story text, one illustration per page, then narration on demand.
package story

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Phase is the workflow step currently running.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseWriting      Phase = "writing"
	PhaseIllustrating Phase = "illustrating"
)

// Step labels shown while a phase runs.
const (
	StepWriting      = "Writing your magical story..."
	StepIllustrating = "Drawing pictures..."
)

// User-facing alert messages.
const (
	AlertStoryFailed     = "Oops! The magic wand sputtered. Please try again."
	AlertNarrationFailed = "Couldn't generate voice for this page."
)

// DefaultMaxConcurrentIllustrations bounds the illustration fan-out when no limit is configured.
const DefaultMaxConcurrentIllustrations = 3

var (
	// ErrNoStory is returned by Narrate when no story is displayed.
	ErrNoStory = errors.New("no story")
	// ErrPageOutOfRange is returned by Narrate for an index outside the story.
	ErrPageOutOfRange = errors.New("page index out of range")
	// ErrSuperseded is returned when a newer submission or a reset replaced the work in flight.
	ErrSuperseded = errors.New("superseded by a newer story")
)

// Alert is a failure the user sees as Message. Err is the cause.
type Alert struct {
	Message string
	Err     error
}

func (a *Alert) Error() string { return fmt.Sprintf("%s: %v", a.Message, a.Err) }

func (a *Alert) Unwrap() error { return a.Err }

// Generator is the subset of the generation client the orchestrator needs.
type Generator interface {
	GenerateStory(ctx context.Context, key credential.Key, topic string) (models.Story, error)
	GenerateIllustration(ctx context.Context, key credential.Key, prompt string, size models.ImageSize) (string, error)
	GenerateSpeech(ctx context.Context, key credential.Key, text string) ([]byte, error)
}

// Options configures an Orchestrator.
type Options struct {
	SessionID                  string
	MaxConcurrentIllustrations int
	Publisher                  events.Publisher
}

// Snapshot is a read-only copy of the story view.
type Snapshot struct {
	Phase        Phase
	Step         string
	Story        *models.Story
	AudioPages   []int
	LoadingAudio []int
}

// Orchestrator owns one session's story, its cached narration and the loading flags.
type Orchestrator struct {
	gen       Generator
	provider  credential.Provider
	sessionID string
	limit     int
	pub       events.Publisher
	flight    singleflight.Group

	mu      sync.Mutex
	tag     uint64 // bumped by every submission and reset
	phase   Phase
	story   *models.Story
	audio   map[int][]byte
	loading map[int]bool
}

// NewOrchestrator returns an idle orchestrator resolving credentials from provider on every call.
func NewOrchestrator(gen Generator, provider credential.Provider, opts Options) *Orchestrator {
	limit := opts.MaxConcurrentIllustrations
	if limit < 1 {
		limit = DefaultMaxConcurrentIllustrations
	}
	return &Orchestrator{
		gen:       gen,
		provider:  provider,
		sessionID: opts.SessionID,
		limit:     limit,
		pub:       events.OrNop(opts.Publisher),
		phase:     PhaseIdle,
		audio:     make(map[int][]byte),
		loading:   make(map[int]bool),
	}
}

// Generate writes a story about topic, then illustrates every page concurrently.
// A blank topic is a no-op. A story failure returns an *Alert and leaves no story; an
// illustration failure only leaves that page without an image. Cancelling ctx does not
// stop the generation calls.
func (o *Orchestrator) Generate(ctx context.Context, topic string, size models.ImageSize) (models.Story, error) {
	ctx = context.WithoutCancel(ctx)
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return models.Story{}, nil
	}
	if size == "" {
		size = models.DefaultImageSize
	}

	o.mu.Lock()
	o.tag++
	tag := o.tag
	o.phase = PhaseWriting
	o.story = nil
	o.audio = make(map[int][]byte)
	o.loading = make(map[int]bool)
	o.mu.Unlock()
	o.publishPhase(ctx, PhaseWriting)

	logger := log.With().
		Str("session_id", o.sessionID).
		Uint64("generation", tag).
		Str("image_size", string(size)).
		Logger()
	logger.Info().Msg("Story generation started")

	key, err := credential.Resolve(ctx, o.provider)
	if err != nil {
		return models.Story{}, o.failStory(ctx, tag, err)
	}

	s, err := o.gen.GenerateStory(ctx, key, topic)
	if err != nil {
		logger.Error().Err(err).Msg("Story generation failed")
		return models.Story{}, o.failStory(ctx, tag, err)
	}

	o.mu.Lock()
	if o.tag != tag {
		o.mu.Unlock()
		logger.Info().Msg("Story superseded before illustration")
		return models.Story{}, ErrSuperseded
	}
	o.phase = PhaseIllustrating
	o.mu.Unlock()
	o.publishPhase(ctx, PhaseIllustrating)

	images := o.illustrate(ctx, key, s, size)

	merged := s.Clone()
	drawn := 0
	for i, uri := range images {
		if uri != "" {
			merged = merged.WithPageImage(i, uri)
			drawn++
		}
	}

	o.mu.Lock()
	if o.tag != tag {
		o.mu.Unlock()
		logger.Info().Msg("Illustrations superseded, discarding results")
		return models.Story{}, ErrSuperseded
	}
	o.story = &merged
	o.phase = PhaseIdle
	o.mu.Unlock()

	logger.Info().
		Str("title", merged.Title).
		Int("pages", len(merged.Pages)).
		Int("illustrated", drawn).
		Msg("Story ready")
	o.publish(ctx, events.New(o.sessionID, events.StoryReady).WithPhase(string(PhaseIdle)))

	return merged.Clone(), nil
}

// illustrate issues one illustration call per page and returns the data URIs by page index.
// Failed pages get "".
func (o *Orchestrator) illustrate(ctx context.Context, key credential.Key, s models.Story, size models.ImageSize) []string {
	images := make([]string, len(s.Pages))
	var g errgroup.Group
	g.SetLimit(o.limit)
	for i, page := range s.Pages {
		g.Go(func() error {
			uri, err := o.gen.GenerateIllustration(ctx, key, page.ImagePrompt, size)
			if err != nil {
				log.Warn().
					Err(err).
					Str("session_id", o.sessionID).
					Int("page", i).
					Msg("Illustration failed, page keeps its text")
				return nil
			}
			images[i] = uri
			return nil
		})
	}
	_ = g.Wait()
	return images
}

func (o *Orchestrator) failStory(ctx context.Context, tag uint64, cause error) error {
	o.mu.Lock()
	if o.tag != tag {
		o.mu.Unlock()
		return ErrSuperseded
	}
	o.phase = PhaseIdle
	o.story = nil
	o.mu.Unlock()

	o.publish(ctx, events.New(o.sessionID, events.StoryFailed).
		WithPhase(string(PhaseIdle)).
		WithMessage(AlertStoryFailed))
	return &Alert{Message: AlertStoryFailed, Err: cause}
}

// Narrate returns the narration audio for page index, generating it on first request.
// Cached audio is returned without a call; concurrent requests for one page share one call.
// The returned bytes must not be modified.
func (o *Orchestrator) Narrate(ctx context.Context, index int) ([]byte, error) {
	o.mu.Lock()
	if o.story == nil {
		o.mu.Unlock()
		return nil, ErrNoStory
	}
	if index < 0 || index >= len(o.story.Pages) {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, index)
	}
	if audio, ok := o.audio[index]; ok {
		o.mu.Unlock()
		return audio, nil
	}
	tag := o.tag
	text := o.story.Pages[index].Text
	o.loading[index] = true
	o.mu.Unlock()

	// The flight is shared, so it must outlive the caller that started it.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := o.flight.Do(fmt.Sprintf("%d/%d", tag, index), func() (interface{}, error) {
		return o.narrate(flightCtx, tag, index, text)
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return nil, err
		}
		return nil, &Alert{Message: AlertNarrationFailed, Err: err}
	}
	return v.([]byte), nil
}

// narrate runs once per coalesced Narrate call. It re-checks the cache so a caller that
// missed the previous flight does not trigger a second speech call.
func (o *Orchestrator) narrate(ctx context.Context, tag uint64, index int, text string) ([]byte, error) {
	o.mu.Lock()
	if o.tag != tag {
		o.mu.Unlock()
		return nil, ErrSuperseded
	}
	if audio, ok := o.audio[index]; ok {
		delete(o.loading, index)
		o.mu.Unlock()
		return audio, nil
	}
	o.mu.Unlock()

	audio, err := o.speak(ctx, text)

	o.mu.Lock()
	if o.tag != tag {
		o.mu.Unlock()
		return nil, ErrSuperseded
	}
	delete(o.loading, index)
	if err != nil {
		o.mu.Unlock()
		log.Warn().Err(err).Str("session_id", o.sessionID).Int("page", index).Msg("Narration failed")
		o.publish(ctx, events.New(o.sessionID, events.NarrationFailed).
			WithPage(index).
			WithMessage(AlertNarrationFailed))
		return nil, err
	}
	o.audio[index] = audio
	o.mu.Unlock()

	log.Info().Str("session_id", o.sessionID).Int("page", index).Int("bytes", len(audio)).Msg("Narration ready")
	o.publish(ctx, events.New(o.sessionID, events.NarrationReady).WithPage(index))
	return audio, nil
}

func (o *Orchestrator) speak(ctx context.Context, text string) ([]byte, error) {
	key, err := credential.Resolve(ctx, o.provider)
	if err != nil {
		return nil, err
	}
	return o.gen.GenerateSpeech(ctx, key, text)
}

// Reset clears the story and its audio ("New Story"). Work in flight is discarded when it finishes.
func (o *Orchestrator) Reset(ctx context.Context) {
	o.mu.Lock()
	o.tag++
	o.phase = PhaseIdle
	o.story = nil
	o.audio = make(map[int][]byte)
	o.loading = make(map[int]bool)
	o.mu.Unlock()
	o.publishPhase(ctx, PhaseIdle)
}

// Snapshot returns a copy of the current view state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Phase:        o.phase,
		Step:         stepLabel(o.phase),
		AudioPages:   sortedKeys(o.audio),
		LoadingAudio: make([]int, 0, len(o.loading)),
	}
	for i, loading := range o.loading {
		if loading {
			snap.LoadingAudio = append(snap.LoadingAudio, i)
		}
	}
	sort.Ints(snap.LoadingAudio)
	if o.story != nil {
		s := o.story.Clone()
		snap.Story = &s
	}
	return snap
}

// HasAudio reports whether narration for page index is cached.
func (o *Orchestrator) HasAudio(index int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.audio[index]
	return ok
}

func stepLabel(p Phase) string {
	switch p {
	case PhaseWriting:
		return StepWriting
	case PhaseIllustrating:
		return StepIllustrating
	default:
		return ""
	}
}

func sortedKeys(m map[int][]byte) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (o *Orchestrator) publishPhase(ctx context.Context, p Phase) {
	o.publish(ctx, events.New(o.sessionID, events.StoryPhase).WithPhase(string(p)))
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if err := o.pub.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("session_id", o.sessionID).Str("type", string(e.Type)).Msg("Failed to publish event")
	}
}
