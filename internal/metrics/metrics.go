// Package metrics records client exchanges and attachment transfers as
// Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmerrifield20/textsecure/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements client.Observer.
type Recorder struct {
	exchangesTotal   *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	transfersTotal   *prometheus.CounterVec
}

var _ client.Observer = (*Recorder)(nil)

// NewRecorder registers the client metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		exchangesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "textsecure_client_exchanges_total",
			Help: "Total HTTP exchanges by call and response status.",
		}, []string{"call", "status"}),

		exchangeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "textsecure_client_exchange_duration_seconds",
			Help:    "Exchange duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),

		transfersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "textsecure_client_attachment_phases_total",
			Help: "Attachment transfer phase transitions by direction and phase.",
		}, []string{"direction", "phase"}),
	}
}

// ObserveExchange implements client.Observer.
func (r *Recorder) ObserveExchange(call string, status int, elapsed time.Duration) {
	r.exchangesTotal.WithLabelValues(call, statusLabel(status)).Inc()
	r.exchangeDuration.WithLabelValues(call).Observe(elapsed.Seconds())
}

// ObserveTransfer implements client.Observer.
func (r *Recorder) ObserveTransfer(dir client.TransferDirection, phase client.TransferPhase) {
	r.transfersTotal.WithLabelValues(string(dir), phase.String()).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func statusLabel(status int) string {
	if status == client.NoResponse {
		return "none"
	}
	return strconv.Itoa(status)
}
