// Package metrics exposes Prometheus instrumentation for the dispatch
// pipeline and the tracking surface.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics satisfies dispatch.Metrics and engagement.Metrics.
type Metrics struct {
	emailsSent   *prometheus.CounterVec
	emailsFailed *prometheus.CounterVec
	opens        *prometheus.CounterVec
	clicks       *prometheus.CounterVec
}

// New registers the engine's collectors on reg. Pass a fresh registry in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		emailsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_emails_sent_total",
			Help: "Emails successfully handed to the transport, by campaign.",
		}, []string{"campaign_id"}),
		emailsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_emails_failed_total",
			Help: "Emails the transport rejected, by campaign.",
		}, []string{"campaign_id"}),
		opens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_tracking_opens_total",
			Help: "Open pixel hits, split by whether the id matched a record.",
		}, []string{"known"}),
		clicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_tracking_clicks_total",
			Help: "Click redirect hits, split by whether the id matched a record.",
		}, []string{"known"}),
	}
}

func (m *Metrics) EmailSent(campaignID string) {
	m.emailsSent.WithLabelValues(campaignID).Inc()
}

func (m *Metrics) EmailFailed(campaignID string) {
	m.emailsFailed.WithLabelValues(campaignID).Inc()
}

func (m *Metrics) OpenRecorded(known bool) {
	m.opens.WithLabelValues(strconv.FormatBool(known)).Inc()
}

func (m *Metrics) ClickRecorded(known bool) {
	m.clicks.WithLabelValues(strconv.FormatBool(known)).Inc()
}

// Handler returns the /metrics endpoint for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
