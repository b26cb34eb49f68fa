// Package playback plays narration audio through a single reusable output, one clip at a time.
package playback

import (
	"bytes"
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultSampleRate is the output rate used when none is configured.
const DefaultSampleRate = 24000

// State is the player state.
type State int

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// Output is a playback context: it decodes audio into voices and may need
// resuming before it can play.
type Output interface {
	Suspended() bool
	Resume(ctx context.Context) error
	Decode(ctx context.Context, data []byte) (Voice, error)
	Close() error
}

// Voice is one decoded clip ready to be played once.
type Voice interface {
	// Start begins playback; onEnded is called from another goroutine when the clip finishes or is stopped.
	Start(onEnded func()) error
	Stop() error
}

// OutputFactory creates an Output at the given sample rate.
type OutputFactory func(sampleRate int) (Output, error)

// Player is the {Idle, Playing} state machine over one lazily created Output.
type Player struct {
	newOutput  OutputFactory
	sampleRate int

	mu    sync.Mutex
	out   Output
	voice Voice
	seq   uint64 // identifies the current voice
	state State
}

// NewPlayer returns an idle player. The output is created on first Play.
func NewPlayer(factory OutputFactory, sampleRate int) *Player {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Player{newOutput: factory, sampleRate: sampleRate}
}

// Play stops any current clip, then decodes a copy of buf and plays it.
// Failures are logged and leave the player Idle.
func (p *Player) Play(ctx context.Context, buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	if p.out == nil {
		out, err := p.newOutput(p.sampleRate)
		if err != nil {
			log.Error().Err(err).Int("sample_rate", p.sampleRate).Msg("Failed to create audio output")
			return
		}
		p.out = out
	}
	if p.out.Suspended() {
		if err := p.out.Resume(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to resume audio output")
			return
		}
	}

	// Decoding may consume its input; the caller keeps the original.
	voice, err := p.out.Decode(ctx, bytes.Clone(buf))
	if err != nil {
		log.Error().Err(err).Int("bytes", len(buf)).Msg("Failed to decode audio")
		return
	}

	p.seq++
	seq := p.seq
	if err := voice.Start(func() { p.ended(seq) }); err != nil {
		log.Error().Err(err).Msg("Failed to start audio playback")
		return
	}
	p.voice = voice
	p.state = Playing
}

// Stop halts the current clip and releases it. Calling Stop while Idle is a no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Toggle stops when playing and plays buf otherwise.
func (p *Player) Toggle(ctx context.Context, buf []byte) {
	if p.IsPlaying() {
		p.Stop()
		return
	}
	p.Play(ctx, buf)
}

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsPlaying reports whether a clip is playing.
func (p *Player) IsPlaying() bool {
	return p.State() == Playing
}

// Close stops playback and closes the output if one was created.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	return err
}

func (p *Player) stopLocked() {
	if p.voice != nil {
		if err := p.voice.Stop(); err != nil {
			log.Debug().Err(err).Msg("Stopping voice")
		}
		p.voice = nil
	}
	p.seq++
	p.state = Idle
}

// ended handles natural completion; callbacks from stopped voices are ignored.
func (p *Player) ended(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.seq {
		return
	}
	p.voice = nil
	p.state = Idle
}
