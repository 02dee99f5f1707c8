package metrics

import (
	"net/http"

	"github.com/dmd/devicetracker/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records ledger activity as Prometheus metrics.
type Collector struct {
	checkouts           *prometheus.CounterVec
	checkins            *prometheus.CounterVec
	rejected            *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	active              *prometheus.GaugeVec
	logins              *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicetracker_checkouts_total",
			Help: "Devices checked out, by device type.",
		}, []string{"device_type"}),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicetracker_checkins_total",
			Help: "Devices returned, by device type.",
		}, []string{"device_type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicetracker_rejected_total",
			Help: "Ledger operations refused, by reason.",
		}, []string{"reason"}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicetracker_persistence_failures_total",
			Help: "Failed snapshot saves, by store.",
		}, []string{"store"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devicetracker_active_assignments",
			Help: "Devices currently checked out, by device type.",
		}, []string{"device_type"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicetracker_logins_total",
			Help: "Login attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.checkouts,
		c.checkins,
		c.rejected,
		c.persistenceFailures,
		c.active,
		c.logins,
	)
	return c
}

func (c *Collector) RecordCheckout(deviceType types.DeviceType) {
	c.checkouts.WithLabelValues(string(deviceType)).Inc()
}

func (c *Collector) RecordCheckin(deviceType types.DeviceType) {
	c.checkins.WithLabelValues(string(deviceType)).Inc()
}

func (c *Collector) RecordRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordPersistenceFailure(store string) {
	c.persistenceFailures.WithLabelValues(store).Inc()
}

func (c *Collector) SetActive(deviceType types.DeviceType, count int) {
	c.active.WithLabelValues(string(deviceType)).Set(float64(count))
}

// RecordLogin counts a login attempt; result is success, failure or limited.
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
