package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const webhookQueueSize = 256

// WebhookConfig configures a WebhookPublisher.
type WebhookConfig struct {
	URL            string
	Secret         string // signs bodies with HMAC-SHA256 when set
	MaxRetries     int    // attempts per event, including the first
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HTTPClient     *http.Client
}

// DeliveryError is a non-2xx webhook response.
type DeliveryError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsRetryable reports whether the delivery is worth repeating.
func (e *DeliveryError) IsRetryable() bool {
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}

// WebhookPublisher POSTs events to a URL from a background worker, retrying transient failures with
// exponential backoff. Publish never blocks; events are dropped when the queue is full.
type WebhookPublisher struct {
	cfg    WebhookConfig
	client *http.Client

	mu     sync.Mutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// NewWebhookPublisher creates a publisher. Call Start before publishing and Close when done.
func NewWebhookPublisher(cfg WebhookConfig) *WebhookPublisher {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	log.Info().
		Str("url", cfg.URL).
		Int("max_retries", cfg.MaxRetries).
		Msg("Webhook event publisher initialized")

	return &WebhookPublisher{
		cfg:    cfg,
		client: client,
		queue:  make(chan Event, webhookQueueSize),
	}
}

// Start runs the delivery worker until ctx is done or Close is called.
func (p *WebhookPublisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Msg("Webhook worker started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Webhook worker context cancelled, stopping")
				return
			case e, ok := <-p.queue:
				if !ok {
					log.Info().Msg("Webhook worker stopped")
					return
				}
				p.deliver(ctx, e)
			}
		}
	}()
}

// Publish enqueues e for delivery.
func (p *WebhookPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("webhook publisher closed")
	}
	select {
	case p.queue <- e:
		return nil
	default:
		log.Warn().
			Str("session_id", e.SessionID).
			Str("type", string(e.Type)).
			Msg("Webhook queue full, dropping event")
		return nil
	}
}

// Close stops accepting events and waits for the worker to drain the queue.
func (p *WebhookPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// deliver makes up to MaxRetries attempts, stopping early on success or a permanent error.
func (p *WebhookPublisher) deliver(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook event")
		return
	}

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		err := p.send(ctx, body)
		if err == nil {
			log.Debug().
				Str("session_id", e.SessionID).
				Str("type", string(e.Type)).
				Int("attempts", attempt).
				Msg("Webhook delivered")
			return
		}

		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) && !deliveryErr.IsRetryable() {
			log.Error().
				Err(err).
				Str("session_id", e.SessionID).
				Int("status_code", deliveryErr.StatusCode).
				Msg("Webhook delivery failed with permanent error - not retrying")
			return
		}

		log.Warn().
			Err(err).
			Str("session_id", e.SessionID).
			Int("attempt", attempt).
			Int("max_retries", p.cfg.MaxRetries).
			Msg("Webhook delivery failed")

		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.backoff(attempt)):
		}
	}

	log.Error().
		Str("session_id", e.SessionID).
		Str("type", string(e.Type)).
		Int("attempts", p.cfg.MaxRetries).
		Msg("Webhook delivery failed permanently after max retries")
}

// backoff is RetryBaseDelay * 2^(attempt-1), capped at RetryMaxDelay.
func (p *WebhookPublisher) backoff(attempt int) time.Duration {
	delay := p.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay <= 0 || delay > p.cfg.RetryMaxDelay {
		delay = p.cfg.RetryMaxDelay
	}
	return delay
}

func (p *WebhookPublisher) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "StoryTime-Webhook/1.0")
	req.Header.Set("X-StoryTime-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if p.cfg.Secret != "" {
		req.Header.Set("X-StoryTime-Signature", Sign(body, p.cfg.Secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			Body:       string(respBody),
		}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
