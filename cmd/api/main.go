package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/config"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/handlers"
	"github.com/snappy-loop/storytime/internal/llm"
	"github.com/snappy-loop/storytime/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment")
	}

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting StoryTime API")

	llmClient := llm.NewClient(llm.Config{
		APIEndpoint: cfg.GeminiAPIEndpoint,
		ModelStory:  cfg.GeminiModelStory,
		ModelChat:   cfg.GeminiModelChat,
		ModelImage:  cfg.GeminiModelImage,
		ModelTTS:    cfg.GeminiModelTTS,
		TTSVoice:    cfg.GeminiTTSVoice,
	})

	// With a server key every session reads it from the environment; otherwise users bring their own.
	newProvider := func() credential.Provider { return credential.NewKeyringProvider(nil) }
	if cfg.GeminiAPIKey != "" {
		newProvider = func() credential.Provider { return credential.NewEnvProvider("GEMINI_API_KEY") }
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()

	var publishers events.Multi
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
	}
	if cfg.WebhookURL != "" {
		webhookPublisher := events.NewWebhookPublisher(events.WebhookConfig{
			URL:            cfg.WebhookURL,
			Secret:         cfg.WebhookSecret,
			MaxRetries:     cfg.WebhookMaxRetries,
			RetryBaseDelay: cfg.WebhookRetryBaseDelay,
			RetryMaxDelay:  cfg.WebhookRetryMaxDelay,
		})
		webhookPublisher.Start(sweepCtx)
		defer webhookPublisher.Close()
		publishers = append(publishers, webhookPublisher)
	}
	var publisher events.Publisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	hub := events.NewHub()
	sessions := session.NewManager(llmClient, session.Options{
		NewProvider:                newProvider,
		Hub:                        hub,
		Publisher:                  publisher,
		MaxConcurrentIllustrations: cfg.MaxConcurrentIllustrations,
		IdleTimeout:                cfg.SessionIdleTimeout,
	})

	go sessions.RunSweeper(sweepCtx, cfg.SessionSweepInterval)

	h := handlers.NewHandler(sessions, hub)
	r := mux.NewRouter()
	h.Register(r)

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Story requests wait for the story and every illustration.
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down API...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("API exited")
}
