package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/models"
	"github.com/snappy-loop/storytime/internal/session"
	"github.com/snappy-loop/storytime/internal/story"
)

const helpText = `Commands:
  story <topic>      write and illustrate a new story
  size <1K|2K|4K>    illustration size for the next story
  read <page>        play or stop narration for a page (1-3)
  stop               stop narration
  chat <message>     talk to your StoryTime pal
  new                start a new story
  key <api key>      select an API key
  help               show this help
  quit               exit`

const lockedText = "An API key is required. Use: key <your Gemini API key>"

// narrator plays narration audio.
type narrator interface {
	Play(ctx context.Context, buf []byte)
	Stop()
	IsPlaying() bool
}

// repl is the line-oriented client over one session.
type repl struct {
	session *session.Session
	player  narrator

	mu      sync.Mutex // guards out, size and playing
	out     io.Writer
	size    models.ImageSize
	playing int // page whose narration was last started, -1 for none
}

func newREPL(out io.Writer, player narrator) *repl {
	return &repl{out: out, player: player, size: models.DefaultImageSize, playing: -1}
}

// Publish prints progress events as they happen.
func (r *repl) Publish(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.StoryPhase:
		switch story.Phase(e.Phase) {
		case story.PhaseWriting:
			r.println(story.StepWriting)
		case story.PhaseIllustrating:
			r.println(story.StepIllustrating)
		}
	case events.GateChanged:
		r.printf("API key: %s\n", e.Message)
	}
	return nil
}

func (r *repl) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, s)
}

func (r *repl) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// run reads commands until quit or EOF.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	r.println("Welcome to StoryTime! Type help for commands.")
	if !r.session.Gate.Unlocked() {
		r.println(lockedText)
	}

	scanner := bufio.NewScanner(in)
	for {
		r.printf("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if quit := r.handle(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

// handle executes one command line and reports whether the client should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
	case "help":
		r.println(helpText)
	case "quit", "exit":
		r.player.Stop()
		return true
	case "key":
		r.selectKey(ctx, arg)
	case "size":
		size, err := models.ParseImageSize(arg)
		if err != nil || arg == "" {
			r.println("Size must be one of 1K, 2K, 4K")
			return false
		}
		r.mu.Lock()
		r.size = size
		r.mu.Unlock()
		r.printf("Illustrations will be %s\n", size)
	case "story":
		if r.requireKey() {
			r.writeStory(ctx, arg)
		}
	case "read":
		if r.requireKey() {
			r.read(ctx, arg)
		}
	case "stop":
		r.player.Stop()
	case "new":
		r.player.Stop()
		r.session.Story.Reset(ctx)
		r.println("Ready for a new story!")
	case "chat":
		if r.requireKey() {
			r.chat(ctx, arg)
		}
	default:
		r.printf("Unknown command %q. Type help for commands.\n", cmd)
	}
	return false
}

func (r *repl) requireKey() bool {
	if r.session.Gate.Unlocked() {
		return true
	}
	r.println(lockedText)
	return false
}

func (r *repl) selectKey(ctx context.Context, key string) {
	if offerer, ok := r.session.Provider().(interface{ Offer(credential.Key) }); ok {
		offerer.Offer(credential.Key(key))
	}
	if _, err := r.session.Gate.Select(ctx); err != nil {
		if alert := r.session.Gate.Alert(); alert != "" {
			r.println(alert)
			return
		}
		r.printf("Key selection failed: %v\n", err)
		return
	}
	if r.session.Gate.Unlocked() {
		r.println("Key selected. Try: story a brave little turtle")
	}
}

func (r *repl) writeStory(ctx context.Context, topic string) {
	if topic == "" {
		r.println("What should the story be about? Try: story a dragon who loves tea")
		return
	}
	r.player.Stop()

	r.mu.Lock()
	size := r.size
	r.playing = -1
	r.mu.Unlock()

	s, err := r.session.Story.Generate(ctx, topic, size)
	if err != nil {
		var alert *story.Alert
		if errors.As(err, &alert) {
			r.println(alert.Message)
			return
		}
		if !errors.Is(err, story.ErrSuperseded) {
			r.printf("Error: %v\n", err)
		}
		return
	}
	r.printStory(s)
}

func (r *repl) printStory(s models.Story) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\n  %s\n\n", s.Title)
	for i, page := range s.Pages {
		picture := "no picture"
		if page.ImageURL != "" {
			picture = "picture ready"
		}
		fmt.Fprintf(r.out, "Page %d of %d [%s]\n%s\n\n", i+1, len(s.Pages), picture, page.Text)
	}
	fmt.Fprintln(r.out, "Type read <page> to hear a page.")
}

func (r *repl) read(ctx context.Context, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		r.println("Which page? Try: read 1")
		return
	}
	index := n - 1

	r.mu.Lock()
	current := r.playing
	r.mu.Unlock()
	if r.player.IsPlaying() && current == index {
		r.player.Stop()
		return
	}

	if !r.session.Story.HasAudio(index) {
		r.println("Warming up the storyteller...")
	}
	audio, err := r.session.Story.Narrate(ctx, index)
	switch {
	case errors.Is(err, story.ErrNoStory):
		r.println("There is no story yet. Try: story <topic>")
		return
	case errors.Is(err, story.ErrPageOutOfRange):
		r.println("That page is not in the story.")
		return
	case err != nil:
		var alert *story.Alert
		if errors.As(err, &alert) {
			r.println(alert.Message)
		} else if !errors.Is(err, story.ErrSuperseded) {
			r.printf("Error: %v\n", err)
		}
		return
	}

	r.mu.Lock()
	r.playing = index
	r.mu.Unlock()
	r.player.Play(ctx, audio)
}

func (r *repl) chat(ctx context.Context, message string) {
	msg, err := r.session.Chat.Send(ctx, message)
	if err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	if msg == nil {
		r.println("Say something! Try: chat why is the sky blue?")
		return
	}
	r.printf("pal: %s\n", msg.Text)
}
