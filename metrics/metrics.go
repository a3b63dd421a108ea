// Package metrics exports auth activity as Prometheus counters.
package metrics

import (
	"context"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is an auth.ActivitySink that counts events by type
type Sink struct {
	Events           *prometheus.CounterVec
	PrivilegeDenials *prometheus.CounterVec
	next             auth.ActivitySink
}

var _ auth.ActivitySink = (*Sink)(nil)

// NewSink creates the collectors and registers them with registerer, a nil
// registerer uses the default registry
func NewSink(registerer prometheus.Registerer) *Sink {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	s := &Sink{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "activity_events_total",
				Help:      "Total number of auth activity events by type.",
			},
			[]string{"event"},
		),
		PrivilegeDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auth",
				Name:      "privilege_denied_total",
				Help:      "Total number of denied privilege checks by required authority.",
			},
			[]string{"authority"},
		),
	}

	registerer.MustRegister(s.Events, s.PrivilegeDenials)

	return s
}

// Chain forwards every event to next after counting it
func (s *Sink) Chain(next auth.ActivitySink) *Sink {
	s.next = next
	return s
}

func (s *Sink) Record(ctx context.Context, event auth.ActivityEvent) error {
	s.Events.WithLabelValues(string(event.EventType)).Inc()

	if event.EventType == auth.ActivityEventPrivilegeDenied {
		if required, ok := event.Metadata["required"].([]string); ok {
			for _, authority := range required {
				s.PrivilegeDenials.WithLabelValues(authority).Inc()
			}
		}
	}

	if s.next != nil {
		return s.next.Record(ctx, event)
	}
	return nil
}
