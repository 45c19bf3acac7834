package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsched_emails_total",
			Help: "Emails lifecycle counter by stage",
		},
		[]string{"stage"}, // scheduled|updated|deleted|sent|failed|lost
	)

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsched_dispatch_cycles_total",
			Help: "Dispatch cycles by result",
		},
		[]string{"result"}, // ok|storage_error|skipped
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailsched_dispatch_cycle_seconds",
			Help:    "Wall time of one dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	DueEmails = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsched_due_emails",
			Help: "Due emails found by the last dispatch cycle",
		},
	)

	ProviderSendSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsched_provider_send_seconds",
			Help:    "Latency of provider send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "result"},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; later calls are no-ops so that
// serve and worker wiring can both call it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			EmailsTotal,
			CyclesTotal,
			CycleDuration,
			DueEmails,
			ProviderSendSeconds,
		)
	})
}
