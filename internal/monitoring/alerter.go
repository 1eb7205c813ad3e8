package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shayan-deriv/multi-touch-attribution/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIngestSilent   AlertType = "ingest_silent"
	AlertAttributionGap AlertType = "attribution_gap"
	AlertAuthRateDrop   AlertType = "auth_rate_drop"
)

// minSampleEvents is the window volume below which rate alerts stay quiet. A
// handful of events produces meaningless shares.
const minSampleEvents = 50

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check ingest volume. Catches a broken tracker embed or a dead
	// delivery path.
	if a.cfg.MinEvents > 0 && snap.EventsTotal < a.cfg.MinEvents {
		alerts = append(alerts, Alert{
			Type:     AlertIngestSilent,
			Severity: "high",
			Message: fmt.Sprintf(
				"Only %d journey event(s) received in last %dh, expected at least %d",
				snap.EventsTotal, snap.LookbackHours, a.cfg.MinEvents,
			),
			Details: map[string]any{
				"events_total": snap.EventsTotal,
				"min_events":   a.cfg.MinEvents,
			},
			Timestamp: now,
		})
	}

	// Check unattributed share. A sudden jump usually means campaign URLs
	// lost their UTM parameters.
	if a.cfg.DirectShareThreshold > 0 && snap.EventsTotal >= minSampleEvents &&
		snap.DirectRate > a.cfg.DirectShareThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAttributionGap,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of events carry no attribution source, above threshold %.1f%% (%d of %d in last %dh)",
				snap.DirectRate*100, a.cfg.DirectShareThreshold*100,
				snap.EventsDirect, snap.EventsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"direct_rate": snap.DirectRate,
				"threshold":   a.cfg.DirectShareThreshold,
				"direct":      snap.EventsDirect,
				"total":       snap.EventsTotal,
			},
			Timestamp: now,
		})
	}

	// Check authenticated share. A drop means login tracking stopped
	// amending events.
	if a.cfg.AuthRateThreshold > 0 && snap.EventsTotal >= minSampleEvents &&
		snap.AuthenticatedRate < a.cfg.AuthRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAuthRateDrop,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Authenticated share %.1f%% fell below threshold %.1f%% (%d of %d events in last %dh)",
				snap.AuthenticatedRate*100, a.cfg.AuthRateThreshold*100,
				snap.EventsAuthenticated, snap.EventsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"authenticated_rate": snap.AuthenticatedRate,
				"threshold":          a.cfg.AuthRateThreshold,
				"authenticated":      snap.EventsAuthenticated,
				"total":              snap.EventsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
