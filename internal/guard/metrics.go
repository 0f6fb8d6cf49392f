package guard

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers guard_decisions_total on reg. Registering twice
// reuses the existing collector.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_decisions_total",
		Help: "Route guard decisions by guard kind and outcome",
	}, []string{"guard", "outcome"}) // outcome: granted|denied_login|denied_landing

	if err := reg.Register(decisions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		decisions = existing
	}
	return &Metrics{decisions: decisions}, nil
}

func (m *Metrics) observe(kind Kind, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(kind), outcome).Inc()
}
