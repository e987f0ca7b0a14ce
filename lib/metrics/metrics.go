// Package metrics defines the prometheus collectors of the message bus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	SlotApplication = "application"
	SlotContract    = "contract"
	SlotConnector   = "connector"

	Resolved   = "resolved"
	Unresolved = "unresolved"

	Accepted     = "accepted"
	NotAccepted  = "not_accepted"
	Precondition = "precondition"
	UploadFailed = "upload_failed"
)

var (
	// Resolutions counts topology slot resolutions by outcome.
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prvd",
		Subsystem: "bus",
		Name:      "resolutions_total",
		Help:      "Topology slot resolutions by slot and result.",
	}, []string{"slot", "result"})

	// Publishes counts publish attempts by outcome.
	Publishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prvd",
		Subsystem: "bus",
		Name:      "publishes_total",
		Help:      "Publish attempts by result.",
	}, []string{"result"})

	// PublishDuration observes upload plus invocation time of publishes that reached storage.
	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prvd",
		Subsystem: "bus",
		Name:      "publish_duration_seconds",
		Help:      "Time spent uploading and invoking the registry contract.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Resolution records the result of resolving one topology slot.
func Resolution(slot string, ok bool) {
	if ok {
		Resolutions.WithLabelValues(slot, Resolved).Inc()
		return
	}
	Resolutions.WithLabelValues(slot, Unresolved).Inc()
}
