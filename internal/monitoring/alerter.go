// Package monitoring checks run quality against thresholds and delivers
// alerts to a webhook.
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

	"github.com/sells-group/geoenrich/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed    AlertType = "run_failed"
	AlertMatchRate    AlertType = "low_match_rate"
	AlertUnassigned   AlertType = "unassigned_locations"
	AlertCoverage     AlertType = "low_coverage"
	AlertSiteFailures AlertType = "site_failures"
)

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ColumnCoverage is the share of output rows with a value for one
// auxiliary column.
type ColumnCoverage struct {
	Column  string
	Percent float64
}

// Snapshot is the quality summary of one run.
type Snapshot struct {
	RunID        string
	Failed       bool
	Error        string
	Valid        int
	MatchRate    float64
	Sites        int
	Unassigned   int
	SiteFailures int
	Coverage     []ColumnCoverage
}

// Alerter evaluates snapshots against configured thresholds and posts
// breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate returns the alerts snap raises. Zero thresholds are disabled.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := a.now()

	if snap.Failed {
		alerts = append(alerts, Alert{
			Type:      AlertRunFailed,
			Severity:  "high",
			Message:   fmt.Sprintf("Run %s failed: %s", snap.RunID, snap.Error),
			Details:   map[string]any{"run_id": snap.RunID},
			Timestamp: now,
		})
		return alerts
	}

	if a.cfg.MinMatchRate > 0 && snap.Valid > 0 && snap.MatchRate < a.cfg.MinMatchRate {
		alerts = append(alerts, Alert{
			Type:     AlertMatchRate,
			Severity: "high",
			Message: fmt.Sprintf("Match rate %.1f%% is below threshold %.1f%% (%d valid transactions)",
				snap.MatchRate*100, a.cfg.MinMatchRate*100, snap.Valid),
			Details: map[string]any{
				"match_rate": snap.MatchRate,
				"threshold":  a.cfg.MinMatchRate,
				"valid":      snap.Valid,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxUnassignedRate > 0 && snap.Sites > 0 {
		rate := float64(snap.Unassigned) / float64(snap.Sites)
		if rate > a.cfg.MaxUnassignedRate {
			alerts = append(alerts, Alert{
				Type:     AlertUnassigned,
				Severity: "medium",
				Message: fmt.Sprintf("%d of %d locations (%.1f%%) fall outside every area, above %.1f%%",
					snap.Unassigned, snap.Sites, rate*100, a.cfg.MaxUnassignedRate*100),
				Details: map[string]any{
					"unassigned": snap.Unassigned,
					"sites":      snap.Sites,
					"threshold":  a.cfg.MaxUnassignedRate,
				},
				Timestamp: now,
			})
		}
	}

	if snap.SiteFailures > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertSiteFailures,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d locations failed enrichment and were left out", snap.SiteFailures),
			Details:   map[string]any{"failed": snap.SiteFailures},
			Timestamp: now,
		})
	}

	if a.cfg.MinCoveragePercent > 0 {
		for _, c := range snap.Coverage {
			if c.Percent >= a.cfg.MinCoveragePercent {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertCoverage,
				Severity: "low",
				Message: fmt.Sprintf("Column %s is %.1f%% populated, below %.1f%%",
					c.Column, c.Percent, a.cfg.MinCoveragePercent),
				Details: map[string]any{
					"column":    c.Column,
					"percent":   c.Percent,
					"threshold": a.cfg.MinCoveragePercent,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL and returns how
// many were accepted.
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
