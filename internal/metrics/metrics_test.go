package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmd/devicetracker/types"
	"github.com/prometheus/client_golang/prometheus"
)

// metricValue returns the value of the series of name carrying label=value.
func metricValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					if m.GetGauge() != nil {
						return m.GetGauge().GetValue()
					}
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckout(types.DeviceTypeAthlete)
	c.RecordCheckout(types.DeviceTypeAthlete)
	c.RecordCheckin(types.DeviceTypePaymentTerminal)
	c.RecordRejected("quota_exceeded")
	c.RecordPersistenceFailure("assignments")
	c.RecordLogin("failure")

	if got := metricValue(t, reg, "devicetracker_checkouts_total", "device_type", "AthleteDevice"); got != 2 {
		t.Errorf("checkouts = %v, want 2", got)
	}
	if got := metricValue(t, reg, "devicetracker_checkins_total", "device_type", "PaymentTerminal"); got != 1 {
		t.Errorf("checkins = %v, want 1", got)
	}
	if got := metricValue(t, reg, "devicetracker_rejected_total", "reason", "quota_exceeded"); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := metricValue(t, reg, "devicetracker_persistence_failures_total", "store", "assignments"); got != 1 {
		t.Errorf("persistence failures = %v, want 1", got)
	}
	if got := metricValue(t, reg, "devicetracker_logins_total", "result", "failure"); got != 1 {
		t.Errorf("logins = %v, want 1", got)
	}
}

func TestCollector_ActiveGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActive(types.DeviceTypePaymentTerminal, 4)
	c.SetActive(types.DeviceTypePaymentTerminal, 3)

	if got := metricValue(t, reg, "devicetracker_active_assignments", "device_type", "PaymentTerminal"); got != 3 {
		t.Errorf("active = %v, want 3", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordCheckout(types.DeviceTypeAthlete)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "devicetracker_checkouts_total") {
		t.Errorf("metrics output missing checkouts counter:\n%s", body)
	}
}
