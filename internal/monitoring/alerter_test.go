package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoenrich/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{MinMatchRate: 0.8, MaxUnassignedRate: 0.2, MinCoveragePercent: 50}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	t.Parallel()
	a := NewAlerter(thresholds())
	alerts := a.Evaluate(&Snapshot{
		Valid: 100, MatchRate: 0.95, Sites: 40, Unassigned: 2,
		Coverage: []ColumnCoverage{{Column: "rental_yield_gross_yield", Percent: 88}},
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MatchRate(t *testing.T) {
	t.Parallel()
	alerts := NewAlerter(thresholds()).Evaluate(&Snapshot{Valid: 20, MatchRate: 0.5})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMatchRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
	assert.Contains(t, alerts[0].Message, "80.0%")
}

func TestAlerter_Evaluate_NoTransactions(t *testing.T) {
	t.Parallel()
	assert.Empty(t, NewAlerter(thresholds()).Evaluate(&Snapshot{}))
}

func TestAlerter_Evaluate_Unassigned(t *testing.T) {
	t.Parallel()
	alerts := NewAlerter(thresholds()).Evaluate(&Snapshot{Valid: 1, MatchRate: 1, Sites: 4, Unassigned: 2})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnassigned, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 of 4 locations (50.0%)")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	t.Parallel()
	alerts := NewAlerter(thresholds()).Evaluate(&Snapshot{
		Valid: 10, MatchRate: 0.1, Sites: 5, Unassigned: 5, SiteFailures: 1,
		Coverage: []ColumnCoverage{{Column: "a", Percent: 10}, {Column: "b", Percent: 90}, {Column: "c", Percent: 0}},
	})

	types := make([]AlertType, len(alerts))
	for i, a := range alerts {
		types[i] = a.Type
	}
	assert.Equal(t, []AlertType{AlertMatchRate, AlertUnassigned, AlertSiteFailures, AlertCoverage, AlertCoverage}, types)
	assert.Equal(t, "a", alerts[3].Details["column"])
	assert.Equal(t, "c", alerts[4].Details["column"])
}

func TestAlerter_Evaluate_FailedRunOnly(t *testing.T) {
	t.Parallel()
	alerts := NewAlerter(thresholds()).Evaluate(&Snapshot{RunID: "r1", Failed: true, Error: "pipeline: load: boom", MatchRate: 0})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailed, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "pipeline: load: boom")
}

func TestAlerter_Evaluate_DisabledThresholds(t *testing.T) {
	t.Parallel()
	alerts := NewAlerter(config.MonitoringConfig{}).Evaluate(&Snapshot{
		Valid: 10, MatchRate: 0.01, Sites: 3, Unassigned: 3,
		Coverage: []ColumnCoverage{{Column: "a", Percent: 0}},
	})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	t.Parallel()
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert)) {
			assert.NotEmpty(t, alert.Type)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertMatchRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCoverage, Severity: "low", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	t.Parallel()
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertMatchRate}}))

	a = NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertMatchRate, Message: "test"}}))
}
