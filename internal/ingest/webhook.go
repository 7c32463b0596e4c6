package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/AngelCh415/leadscore/internal/telemetry"
	"github.com/AngelCh415/leadscore/internal/utils"
)

// WebhookPoster delivers signed JSON payloads to one URL. Deliveries go
// through a circuit breaker so a dead endpoint stops costing retries.
type WebhookPoster struct {
	name    string
	c       HTTPClient
	url     string
	secret  string
	cb      *gobreaker.CircuitBreaker[struct{}]
	backoff utils.Backoff
	log     *slog.Logger
}

func NewWebhookPoster(name string, c HTTPClient, url, secret string, log *slog.Logger) *WebhookPoster {
	w := &WebhookPoster{
		name:    name,
		c:       c,
		url:     url,
		secret:  secret,
		backoff: utils.NewBackoff(200*time.Millisecond, 2),
		log:     log,
	}
	w.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("webhook circuit state", slog.String("target", name),
				slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return w
}

// Enabled reports whether a URL is configured.
func (w *WebhookPoster) Enabled() bool { return w.url != "" }

// Post marshals payload and delivers it, retrying transient failures.
func (w *WebhookPoster) Post(ctx context.Context, payload any) error {
	if !w.Enabled() {
		return fmt.Errorf("webhook %s: %w", w.name, ErrNotConfigured)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}
	err = w.backoff.Do(ctx, func(int) error {
		_, err := w.cb.Execute(func() (struct{}, error) {
			return struct{}{}, postSigned(ctx, w.c, w.url, w.secret, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return utils.Permanent{Err: err}
		}
		return retryable(err)
	})
	result := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "circuit_open"
	case err != nil:
		result = "error"
	}
	telemetry.WebhookDeliveriesTotal.WithLabelValues(w.name, result).Inc()
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	return nil
}
