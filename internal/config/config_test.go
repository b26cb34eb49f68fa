package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "GEMINI_TTS_VOICE", "MAX_CONCURRENT_ILLUSTRATIONS", "SESSION_IDLE_TIMEOUT",
		"KAFKA_BROKERS", "PLAYBACK_COMMAND", "PLAYBACK_SAMPLE_RATE", "WEBHOOK_URL", "WEBHOOK_MAX_RETRIES",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.GeminiTTSVoice != "Kore" {
		t.Errorf("GeminiTTSVoice = %q", cfg.GeminiTTSVoice)
	}
	if cfg.MaxConcurrentIllustrations != 3 {
		t.Errorf("MaxConcurrentIllustrations = %d", cfg.MaxConcurrentIllustrations)
	}
	if cfg.SessionIdleTimeout != 2*time.Hour {
		t.Errorf("SessionIdleTimeout = %s", cfg.SessionIdleTimeout)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("KafkaBrokers = %v, want nil", cfg.KafkaBrokers)
	}
	if cfg.WebhookURL != "" || cfg.WebhookMaxRetries != 5 {
		t.Errorf("Webhook = %q retries %d", cfg.WebhookURL, cfg.WebhookMaxRetries)
	}
	if !reflect.DeepEqual(cfg.PlaybackCommand, []string{"aplay", "-q", "-"}) {
		t.Errorf("PlaybackCommand = %v", cfg.PlaybackCommand)
	}
	if cfg.PlaybackSampleRate != 24000 {
		t.Errorf("PlaybackSampleRate = %d", cfg.PlaybackSampleRate)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_ILLUSTRATIONS", "0")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("SESSION_IDLE_TIMEOUT", "15m")
	t.Setenv("PLAYBACK_SAMPLE_RATE", "not-a-number")
	t.Setenv("WEBHOOK_MAX_RETRIES", "-2")

	cfg := Load()
	if cfg.MaxConcurrentIllustrations != 1 {
		t.Errorf("MaxConcurrentIllustrations = %d, want clamped to 1", cfg.MaxConcurrentIllustrations)
	}
	if !reflect.DeepEqual(cfg.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.SessionIdleTimeout != 15*time.Minute {
		t.Errorf("SessionIdleTimeout = %s", cfg.SessionIdleTimeout)
	}
	if cfg.PlaybackSampleRate != 24000 {
		t.Errorf("PlaybackSampleRate = %d, want default on parse error", cfg.PlaybackSampleRate)
	}
	if cfg.WebhookMaxRetries != 1 {
		t.Errorf("WebhookMaxRetries = %d, want clamped to 1", cfg.WebhookMaxRetries)
	}
}
