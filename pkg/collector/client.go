// Package collector provides the delivery client for the attribution
// collector API. It satisfies mta.Deliverer, so a tracker can be pointed at
// a collector with one Config field.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Client delivers tracker envelopes to a collector endpoint.
type Client interface {
	// Deliver posts one envelope. It never retries: delivery is a lossy
	// notification channel and the tracker only logs failures.
	Deliver(ctx context.Context, env mta.Envelope) error
}

var _ mta.Deliverer = Client(nil)

// Option configures the collector client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header on deliveries.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithThrottle caps deliveries at eventsPerSec with the given burst.
// Envelopes over the rate are dropped with an error rather than queued, so
// a chatty page can never build up a delivery backlog.
func WithThrottle(eventsPerSec float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(eventsPerSec), burst)
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	http      *http.Client
}

// NewClient creates a client delivering to baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Deliver(ctx context.Context, env mta.Envelope) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return eris.Errorf("collector: delivery rate exceeded, dropping event %s", env.Event.ID)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "collector: marshal envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/events", bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "collector: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "collector: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("collector: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
