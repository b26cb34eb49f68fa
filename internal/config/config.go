package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Server
	HTTPAddr string
	LogLevel string

	// Gemini API
	GeminiAPIKey      string // optional server-wide key; when empty each session selects its own
	GeminiAPIEndpoint string // if set, overrides default Gemini API base URL (e.g. http://host.docker.internal:31300/gemini)
	GeminiModelStory  string // structured story JSON, e.g. gemini-3-pro-preview
	GeminiModelChat   string // chat assistant, e.g. gemini-3-pro-preview
	GeminiModelImage  string // illustration, e.g. gemini-3-pro-image-preview
	GeminiModelTTS    string // narration, e.g. gemini-2.5-flash-preview-tts
	GeminiTTSVoice    string // prebuilt voice name, e.g. Kore, Zephyr, Puck

	// Story processing
	MaxConcurrentIllustrations int

	// Sessions (in memory only)
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration

	// Kafka (events only; disabled when no brokers are configured)
	KafkaBrokers     []string
	KafkaTopicEvents string

	// Webhook (events only; disabled when no URL is configured)
	WebhookURL            string
	WebhookSecret         string
	WebhookMaxRetries     int
	WebhookRetryBaseDelay time.Duration
	WebhookRetryMaxDelay  time.Duration

	// Playback (terminal client)
	PlaybackCommand    []string
	PlaybackSampleRate int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiAPIEndpoint: getEnv("GEMINI_API_ENDPOINT", ""),
		GeminiModelStory:  getEnv("GEMINI_MODEL_STORY", "gemini-3-pro-preview"),
		GeminiModelChat:   getEnv("GEMINI_MODEL_CHAT", "gemini-3-pro-preview"),
		GeminiModelImage:  getEnv("GEMINI_MODEL_IMAGE", "gemini-3-pro-image-preview"),
		GeminiModelTTS:    getEnv("GEMINI_MODEL_TTS", "gemini-2.5-flash-preview-tts"),
		GeminiTTSVoice:    getEnv("GEMINI_TTS_VOICE", "Kore"),

		MaxConcurrentIllustrations: clampMin(getEnvInt("MAX_CONCURRENT_ILLUSTRATIONS", 3), 1),

		SessionIdleTimeout:   getEnvDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),

		KafkaBrokers:     getEnvList("KAFKA_BROKERS"),
		KafkaTopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "storytime.events.v1"),

		WebhookURL:            getEnv("WEBHOOK_URL", ""),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		WebhookMaxRetries:     clampMin(getEnvInt("WEBHOOK_MAX_RETRIES", 5), 1),
		WebhookRetryBaseDelay: getEnvDuration("WEBHOOK_RETRY_BASE_DELAY", time.Second),
		WebhookRetryMaxDelay:  getEnvDuration("WEBHOOK_RETRY_MAX_DELAY", time.Minute),

		PlaybackCommand:    strings.Fields(getEnv("PLAYBACK_COMMAND", "aplay -q -")),
		PlaybackSampleRate: clampMin(getEnvInt("PLAYBACK_SAMPLE_RATE", 24000), 8000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items. Unset means nil.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// clampMin returns v if v >= min, otherwise min. Used to ensure config values are in valid range.
func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
