package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func labeledValue(f *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range f.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func TestCollector_Economy(t *testing.T) {
	c := New()

	c.PointsGranted(150)
	c.PointsGranted(0)
	c.PointsDeducted(40)
	c.AchievementUnlocked("scan_3")
	c.AchievementUnlocked("scan_3")
	c.RankChanged("bronze", "silver")

	families := gather(t, c)

	require.Contains(t, families, "loyalty_economy_points_granted_total")
	assert.Equal(t, 150.0, families["loyalty_economy_points_granted_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 40.0, families["loyalty_economy_points_deducted_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, labeledValue(families["loyalty_achievements_unlocks_total"], map[string]string{"achievement": "scan_3"}))
	assert.Equal(t, 1.0, labeledValue(families["loyalty_ranks_changes_total"], map[string]string{"from": "bronze", "to": "silver"}))
}

func TestCollector_EventObserver(t *testing.T) {
	c := New()

	c.ObserveBroadcast("product_scanned")
	c.ObserveBroadcast("product_scanned")
	c.ObserveListenerFailure("product_scanned")

	families := gather(t, c)
	assert.Equal(t, 2.0, labeledValue(families["loyalty_events_broadcasts_total"], map[string]string{"event": "product_scanned"}))
	assert.Equal(t, 1.0, labeledValue(families["loyalty_events_listener_failures_total"], map[string]string{"event": "product_scanned"}))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.PointsGranted(5)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "loyalty_economy_points_granted_total 5"))
}
