package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultCommand plays WAV from stdin with ALSA.
var DefaultCommand = []string{"aplay", "-q", "-"}

// CommandOutput plays clips by piping WAV bytes to an external player command.
// It is suspended until the command has been located on PATH.
type CommandOutput struct {
	command    []string
	sampleRate int
	lookPath   func(string) (string, error)

	mu   sync.Mutex
	path string
}

// NewCommandOutput returns a suspended output for command (DefaultCommand when empty).
func NewCommandOutput(command []string, sampleRate int) *CommandOutput {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &CommandOutput{command: command, sampleRate: sampleRate, lookPath: exec.LookPath}
}

// CommandFactory returns an OutputFactory building CommandOutputs for command.
func CommandFactory(command []string) OutputFactory {
	return func(sampleRate int) (Output, error) {
		return NewCommandOutput(command, sampleRate), nil
	}
}

// Suspended reports whether the player command has not been resolved yet.
func (o *CommandOutput) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path == ""
}

// Resume locates the player command.
func (o *CommandOutput) Resume(ctx context.Context) error {
	path, err := o.lookPath(o.command[0])
	if err != nil {
		return fmt.Errorf("locate player %q: %w", o.command[0], err)
	}
	o.mu.Lock()
	o.path = path
	o.mu.Unlock()
	log.Debug().Str("player", path).Int("sample_rate", o.sampleRate).Msg("Audio output resumed")
	return nil
}

// Decode validates data as WAV and returns a voice that plays it.
func (o *CommandOutput) Decode(ctx context.Context, data []byte) (Voice, error) {
	o.mu.Lock()
	path := o.path
	o.mu.Unlock()
	if path == "" {
		return nil, errors.New("audio output suspended")
	}

	audio, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if audio.Format.SampleRate != o.sampleRate {
		log.Debug().
			Int("clip_rate", audio.Format.SampleRate).
			Int("output_rate", o.sampleRate).
			Msg("Clip sample rate differs from output; player will resample")
	}
	return &commandVoice{path: path, args: o.command[1:], data: data}, nil
}

// Close releases nothing; each voice owns its process.
func (o *CommandOutput) Close() error { return nil }

type commandVoice struct {
	path string
	args []string
	data []byte

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (v *commandVoice) Start(onEnded func()) error {
	cmd := exec.Command(v.path, v.args...)
	cmd.Stdin = bytes.NewReader(v.data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}

	v.mu.Lock()
	v.cmd = cmd
	v.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("stderr", stderr.String()).Msg("Player exited")
		}
		onEnded()
	}()
	return nil
}

func (v *commandVoice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cmd == nil || v.cmd.Process == nil {
		return nil
	}
	err := v.cmd.Process.Kill()
	v.cmd = nil
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
