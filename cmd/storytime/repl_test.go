package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/models"
	"github.com/snappy-loop/storytime/internal/session"
	"github.com/snappy-loop/storytime/internal/story"
)

type fakeGenerator struct {
	imageErr    error
	speechCalls int
	sizes       []models.ImageSize
}

func (f *fakeGenerator) GenerateStory(ctx context.Context, key credential.Key, topic string) (models.Story, error) {
	return models.Story{
		Title: "Tom the Turtle",
		Pages: []models.StoryPage{
			{Text: "Tom lived by the sea.", ImagePrompt: "turtle"},
			{Text: "A storm came.", ImagePrompt: "storm"},
			{Text: "Tom was brave.", ImagePrompt: "brave"},
		},
	}, nil
}

func (f *fakeGenerator) GenerateIllustration(ctx context.Context, key credential.Key, prompt string, size models.ImageSize) (string, error) {
	if prompt == "storm" && f.imageErr != nil {
		return "", f.imageErr
	}
	return "data:image/png;base64,AAAA", nil
}

func (f *fakeGenerator) GenerateSpeech(ctx context.Context, key credential.Key, text string) ([]byte, error) {
	f.speechCalls++
	return []byte(text), nil
}

func (f *fakeGenerator) ChatReply(ctx context.Context, key credential.Key, message string, history []models.HistoryEntry) (string, error) {
	return "Great question!", nil
}

type fakePlayer struct {
	played  [][]byte
	stopped int
	playing bool
}

func (p *fakePlayer) Play(ctx context.Context, buf []byte) {
	p.played = append(p.played, buf)
	p.playing = true
}

func (p *fakePlayer) Stop() {
	p.stopped++
	p.playing = false
}

func (p *fakePlayer) IsPlaying() bool { return p.playing }

func newTestREPL(t *testing.T, newProvider func() credential.Provider) (*repl, *bytes.Buffer, *fakePlayer, *fakeGenerator) {
	t.Helper()
	var out bytes.Buffer
	player := &fakePlayer{}
	gen := &fakeGenerator{imageErr: errors.New("no picture today")}
	r := newREPL(&out, player)
	m := session.NewManager(gen, session.Options{NewProvider: newProvider, Publisher: r})
	r.session = m.Create(context.Background())
	return r, &out, player, gen
}

func envKey(key string) func() credential.Provider {
	return func() credential.Provider {
		return &credential.EnvProvider{Name: "K", Lookup: func(string) string { return key }}
	}
}

func TestREPL_StoryAndRead(t *testing.T) {
	r, out, player, gen := newTestREPL(t, envKey("k"))
	ctx := context.Background()

	r.handle(ctx, "story a brave little turtle")
	text := out.String()
	for _, want := range []string{story.StepWriting, story.StepIllustrating, "Tom the Turtle", "Page 2 of 3 [no picture]", "Page 1 of 3 [picture ready]"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	r.handle(ctx, "read 2")
	if len(player.played) != 1 || string(player.played[0]) != "A storm came." {
		t.Fatalf("played = %q", player.played)
	}

	// Reading the playing page again stops it; reading again replays from cache.
	r.handle(ctx, "read 2")
	if player.playing {
		t.Error("second read of the playing page should stop it")
	}
	r.handle(ctx, "read 2")
	if len(player.played) != 2 || gen.speechCalls != 1 {
		t.Errorf("played=%d speechCalls=%d, want 2 and 1", len(player.played), gen.speechCalls)
	}

	out.Reset()
	r.handle(ctx, "read 9")
	if !strings.Contains(out.String(), "not in the story") {
		t.Errorf("output = %q", out.String())
	}
}

func TestREPL_LockedRefuses(t *testing.T) {
	r, out, _, gen := newTestREPL(t, func() credential.Provider { return credential.NewKeyringProvider(nil) })
	ctx := context.Background()

	for _, line := range []string{"story owls", "chat hi", "read 1"} {
		out.Reset()
		r.handle(ctx, line)
		if !strings.Contains(out.String(), lockedText) {
			t.Errorf("%q output = %q, want locked notice", line, out.String())
		}
	}
	if gen.speechCalls != 0 {
		t.Errorf("speech calls = %d", gen.speechCalls)
	}

	out.Reset()
	r.handle(ctx, "key")
	if !strings.Contains(out.String(), credential.AlertSelectionFailed) {
		t.Errorf("empty key output = %q", out.String())
	}

	out.Reset()
	r.handle(ctx, "key my-secret")
	if !r.session.Gate.Unlocked() || !strings.Contains(out.String(), "Key selected") {
		t.Errorf("key select output = %q", out.String())
	}
}

func TestREPL_SizeChatNewQuit(t *testing.T) {
	r, out, player, _ := newTestREPL(t, envKey("k"))
	ctx := context.Background()

	r.handle(ctx, "size 4k")
	if r.size != models.ImageSize4K {
		t.Errorf("size = %s, want 4K", r.size)
	}
	out.Reset()
	r.handle(ctx, "size 8K")
	if !strings.Contains(out.String(), "1K, 2K, 4K") || r.size != models.ImageSize4K {
		t.Errorf("bad size handling: %q size=%s", out.String(), r.size)
	}

	out.Reset()
	r.handle(ctx, "chat why is the sky blue?")
	if !strings.Contains(out.String(), "pal: Great question!") {
		t.Errorf("chat output = %q", out.String())
	}

	r.handle(ctx, "story turtles")
	r.handle(ctx, "new")
	if r.session.Story.Snapshot().Story != nil {
		t.Error("new should clear the story")
	}
	if player.stopped == 0 {
		t.Error("new should stop playback")
	}

	if !r.handle(ctx, "quit") {
		t.Error("quit should end the loop")
	}
	if r.handle(ctx, "dance") {
		t.Error("unknown command should not quit")
	}
}

func TestREPL_Run(t *testing.T) {
	r, out, _, _ := newTestREPL(t, envKey("k"))
	in := strings.NewReader("help\nchat hello\nquit\nchat never\n")
	if err := r.run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Commands:") || strings.Count(text, "pal: ") != 1 {
		t.Errorf("output:\n%s", text)
	}
}
