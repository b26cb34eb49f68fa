package llm

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rivo/uniseg"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/tmc/langchaingo/llms/googleai"
	"google.golang.org/api/option"
	unifiedgenai "google.golang.org/genai"
)

// maxGeminiResponseLogBytes is the max length of a Gemini response body to log in full (to avoid huge logs).
const maxGeminiResponseLogBytes = 8192

// httpClientForEndpoint returns an http.Client that rewrites request URLs to the given base endpoint (e.g. http://host.docker.internal:31300/gemini).
func httpClientForEndpoint(baseEndpoint string) *http.Client {
	base, err := url.Parse(baseEndpoint)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", baseEndpoint).Msg("Invalid GEMINI_API_ENDPOINT, using default")
		return nil
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	return &http.Client{
		Transport: &endpointRoundTripper{base: base, next: http.DefaultTransport},
	}
}

// endpointRoundTripper rewrites request URLs to a custom base (scheme, host, path prefix).
type endpointRoundTripper struct {
	base *url.URL
	next http.RoundTripper
}

func (e *endpointRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = e.base.Scheme
	req2.URL.Host = e.base.Host
	req2.URL.Path = path.Join(e.base.Path, strings.TrimPrefix(req.URL.Path, "/"))
	if req.URL.RawQuery != "" {
		req2.URL.RawQuery = req.URL.RawQuery
	}
	return e.next.RoundTrip(req2)
}

// logGeminiResponse logs Gemini response text, truncating if over maxGeminiResponseLogBytes.
func logGeminiResponse(caller, raw string) {
	if len(raw) <= maxGeminiResponseLogBytes {
		log.Debug().Str("caller", caller).Str("gemini_response", raw).Msg("Gemini response")
		return
	}
	log.Debug().
		Str("caller", caller).
		Str("gemini_response", raw[:maxGeminiResponseLogBytes]+"... [truncated]").
		Int("gemini_response_len", len(raw)).
		Msg("Gemini response")
}

// preview returns at most n visual characters of s, never splitting a grapheme cluster.
func preview(s string, n int) string {
	var b strings.Builder
	gr := uniseg.NewGraphemes(s)
	for i := 0; i < n && gr.Next(); i++ {
		b.WriteString(gr.Str())
	}
	if b.Len() < len(s) {
		b.WriteString("...")
	}
	return b.String()
}

// Config selects the models and voice used by the Client.
type Config struct {
	APIEndpoint string // optional base URL override for every SDK
	ModelStory  string // structured story JSON
	ModelChat   string // chat assistant
	ModelImage  string // illustration
	ModelTTS    string // narration
	TTSVoice    string // prebuilt voice name
}

// Client wraps the Gemini SDKs. It holds no credential: every call receives the key explicitly and
// builds its SDK client for that call only.
type Client struct {
	endpoint   string
	modelStory string
	modelChat  string
	modelImage string
	modelTTS   string
	ttsVoice   string
	httpClient *http.Client // endpoint-rewriting client for langchaingo; nil without an endpoint override
}

// NewClient creates a new LLM client. Empty fields fall back to the default models and voice.
func NewClient(cfg Config) *Client {
	if cfg.ModelStory == "" {
		cfg.ModelStory = "gemini-3-pro-preview"
	}
	if cfg.ModelChat == "" {
		cfg.ModelChat = "gemini-3-pro-preview"
	}
	if cfg.ModelImage == "" {
		cfg.ModelImage = "gemini-3-pro-image-preview"
	}
	if cfg.ModelTTS == "" {
		cfg.ModelTTS = "gemini-2.5-flash-preview-tts"
	}
	if cfg.TTSVoice == "" {
		cfg.TTSVoice = "Kore"
	}

	var hc *http.Client
	if cfg.APIEndpoint != "" {
		hc = httpClientForEndpoint(cfg.APIEndpoint)
	}

	log.Info().
		Str("model_story", cfg.ModelStory).
		Str("model_chat", cfg.ModelChat).
		Str("model_image", cfg.ModelImage).
		Str("model_tts", cfg.ModelTTS).
		Str("tts_voice", cfg.TTSVoice).
		Str("api_endpoint", cfg.APIEndpoint).
		Msg("LLM client initialized")

	return &Client{
		endpoint:   cfg.APIEndpoint,
		modelStory: cfg.ModelStory,
		modelChat:  cfg.ModelChat,
		modelImage: cfg.ModelImage,
		modelTTS:   cfg.ModelTTS,
		ttsVoice:   cfg.TTSVoice,
		httpClient: hc,
	}
}

// unifiedClient builds a unified genai SDK client for one call (image and speech).
func (c *Client) unifiedClient(ctx context.Context, key credential.Key) (*unifiedgenai.Client, error) {
	if key.Empty() {
		return nil, credential.ErrCredentialMissing
	}
	cfg := &unifiedgenai.ClientConfig{APIKey: key.Value(), Backend: unifiedgenai.BackendGeminiAPI}
	if c.endpoint != "" {
		cfg.HTTPOptions = unifiedgenai.HTTPOptions{BaseURL: c.endpoint}
	}
	return unifiedgenai.NewClient(ctx, cfg)
}

// genaiClient builds a generative-ai-go client for one call (schema-constrained story JSON).
// The caller must Close it.
func (c *Client) genaiClient(ctx context.Context, key credential.Key) (*genai.Client, error) {
	if key.Empty() {
		return nil, credential.ErrCredentialMissing
	}
	opts := []option.ClientOption{option.WithAPIKey(key.Value())}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return genai.NewClient(ctx, opts...)
}

// chatModel builds a langchaingo Google AI model for one chat call.
func (c *Client) chatModel(ctx context.Context, key credential.Key) (*googleai.GoogleAI, error) {
	if key.Empty() {
		return nil, credential.ErrCredentialMissing
	}
	opts := []googleai.Option{googleai.WithAPIKey(key.Value()), googleai.WithDefaultModel(c.modelChat)}
	if c.httpClient != nil {
		opts = append(opts, googleai.WithHTTPClient(c.httpClient))
	}
	return googleai.New(ctx, opts...)
}
