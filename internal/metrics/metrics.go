package metrics

import (
    "github.com/prometheus/client_golang/prometheus"

    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
)

var (
    eventsTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "netns_monitor_events_total",
            Help: "Number of decoded process lifecycle events, labelled by type.",
        },
        []string{"type"},
    )

    decodeErrorsTotal = prometheus.NewCounter(
        prometheus.CounterOpts{
            Name: "netns_monitor_decode_errors_total",
            Help: "Number of ring buffer records rejected by the decoder.",
        },
    )

    nsidEventsTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "netns_monitor_nsid_events_total",
            Help: "Number of namespace-id notifications, labelled by action.",
        },
        []string{"action"},
    )

    correlationsTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "netns_monitor_correlations_total",
            Help: "Number of namespace attributions, labelled by outcome.",
        },
        []string{"outcome"},
    )

    alertsTotal = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "netns_monitor_alerts_total",
            Help: "Number of alerts raised, labelled by rule id.",
        },
        []string{"rule_id"},
    )
)

func Register(reg *prometheus.Registry) {
    reg.MustRegister(eventsTotal, decodeErrorsTotal, nsidEventsTotal, correlationsTotal, alertsTotal)
}

// RegisterDrops exposes a ring's monotonic drop counter. The ring itself
// does no metrics; the counter is read on scrape.
func RegisterDrops(reg *prometheus.Registry, ringName string, dropped func() uint64) {
    reg.MustRegister(prometheus.NewCounterFunc(
        prometheus.CounterOpts{
            Name:        "netns_monitor_ring_dropped_total",
            Help:        "Number of records lost to a full ring buffer.",
            ConstLabels: prometheus.Labels{"ring": ringName},
        },
        func() float64 { return float64(dropped()) },
    ))
}

func IncEvent(eventType model.EventType) {
    eventsTotal.WithLabelValues(string(eventType)).Inc()
}

func IncDecodeError() {
    decodeErrorsTotal.Inc()
}

func IncNamespaceEvent(action model.NamespaceAction) {
    nsidEventsTotal.WithLabelValues(string(action)).Inc()
}

func IncCorrelation(outcome string) {
    correlationsTotal.WithLabelValues(outcome).Inc()
}

func IncAlert(ruleID string) {
    alertsTotal.WithLabelValues(ruleID).Inc()
}
