package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookPayload is the wire shape of one outbound delivery. Immutable once
// built, never persisted: exhausting the retry budget drops it.
type WebhookPayload struct {
	Event              string                 `json:"event"`
	Data               interface{}            `json:"data"`
	Extra              map[string]interface{} `json:"extra,omitempty"`
	AwaitResponse      bool                   `json:"awaitResponse,omitempty"`
	WebhookVerifyToken string                 `json:"webhookVerifyToken"`
}

// RetryPolicy controls the dispatcher's backoff. BackoffFactor must be >= 1;
// the delay before retry n is InitialInterval * BackoffFactor^n plus up to
// maxJitter of uniform random jitter.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	BackoffFactor   float64
}

const defaultMaxJitter = time.Second

// Dispatcher delivers webhook payloads with bounded, jittered retries.
// Delivery is at-most-once: failures past the budget are logged and dropped,
// never surfaced to the transport event that triggered them.
type Dispatcher struct {
	Client *http.Client
	Policy RetryPolicy
	Log    zerolog.Logger

	// maxJitter bounds the random addition per retry sleep. Zero means the
	// 1s default; tests shrink it for determinism.
	maxJitter time.Duration
}

func NewDispatcher(policy RetryPolicy, log zerolog.Logger) *Dispatcher {
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}
	return &Dispatcher{
		Client: &http.Client{Timeout: 30 * time.Second},
		Policy: policy,
		Log:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// Deliver POSTs the payload to url, retrying on non-2xx responses and
// transport-level failures. It blocks until success or exhaustion and never
// returns an error: the caller's transport event must not fail because a
// webhook endpoint is down. Payload data and the verify token are never
// logged.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload WebhookPayload) {
	deliveryID := uuid.NewString()
	log := d.Log.With().
		Str("delivery_id", deliveryID).
		Str("event", payload.Event).
		Logger()

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}

	for attempt := 0; attempt <= d.Policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.backoff(attempt - 1)):
			case <-ctx.Done():
				log.Warn().Int("attempt", attempt).Msg("webhook delivery cancelled")
				return
			}
		}

		status, err := d.post(ctx, url, body, payload.WebhookVerifyToken)
		if err == nil && status >= 200 && status < 300 {
			log.Info().Int("attempt", attempt+1).Int("status", status).Msg("webhook delivered")
			return
		}

		ev := log.Warn().Int("attempt", attempt+1).Int("max_attempts", d.Policy.MaxRetries+1)
		if err != nil {
			ev = ev.Err(err)
		} else {
			ev = ev.Int("status", status)
		}
		ev.Msg("webhook attempt failed")
	}

	// Retries exhausted: at-most-once, drop it.
	log.Error().Int("attempts", d.Policy.MaxRetries+1).Msg("webhook delivery exhausted, dropping payload")
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		mac := hmac.New(sha256.New, []byte(token))
		mac.Write(body)
		req.Header.Set("X-Warelay-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := time.Duration(float64(d.Policy.InitialInterval) * math.Pow(d.Policy.BackoffFactor, float64(attempt)))
	jitter := d.maxJitter
	if jitter == 0 {
		jitter = defaultMaxJitter
	}
	return base + time.Duration(rand.Int63n(int64(jitter)))
}
