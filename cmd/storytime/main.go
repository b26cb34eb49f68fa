package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/config"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/llm"
	"github.com/snappy-loop/storytime/internal/models"
	"github.com/snappy-loop/storytime/internal/playback"
	"github.com/snappy-loop/storytime/internal/session"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	size := flag.String("size", string(models.DefaultImageSize), "Illustration size: 1K, 2K or 4K")
	player := flag.String("player", strings.Join(cfg.PlaybackCommand, " "), "Command that plays WAV from stdin")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "StoryTime - magical stories in your terminal\n\n")
		fmt.Fprintf(os.Stderr, "Usage: storytime [options]\n\n")
		fmt.Fprintf(os.Stderr, "Set GEMINI_API_KEY, or select a key inside with: key <your key>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level := zerolog.WarnLevel
	if os.Getenv("LOG_LEVEL") != "" {
		if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	imageSize, err := models.ParseImageSize(*size)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	llmClient := llm.NewClient(llm.Config{
		APIEndpoint: cfg.GeminiAPIEndpoint,
		ModelStory:  cfg.GeminiModelStory,
		ModelChat:   cfg.GeminiModelChat,
		ModelImage:  cfg.GeminiModelImage,
		ModelTTS:    cfg.GeminiModelTTS,
		TTSVoice:    cfg.GeminiTTSVoice,
	})

	narrator := playback.NewPlayer(playback.CommandFactory(strings.Fields(*player)), cfg.PlaybackSampleRate)
	defer narrator.Close()

	r := newREPL(os.Stdout, narrator)
	r.size = imageSize

	newProvider := func() credential.Provider { return credential.NewKeyringProvider(nil) }
	if cfg.GeminiAPIKey != "" {
		newProvider = func() credential.Provider { return credential.NewEnvProvider("GEMINI_API_KEY") }
	}
	sessions := session.NewManager(llmClient, session.Options{
		NewProvider:                newProvider,
		Publisher:                  r,
		MaxConcurrentIllustrations: cfg.MaxConcurrentIllustrations,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.session = sessions.Create(ctx)
	if err := r.run(ctx, os.Stdin); err != nil {
		log.Error().Err(err).Msg("Reading input failed")
	}
	fmt.Println("Goodbye!")
}
