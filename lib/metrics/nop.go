package metrics

import (
	"time"
)

// NopMetrics is a no-op implementation of the Metrics interface.
// Use this when metrics collection is disabled.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

func (m *NopMetrics) SetBootstrapState(state int)                   {}
func (m *NopMetrics) IncRequests(route, outcome string)             {}
func (m *NopMetrics) ObserveCall(fcn string, latency time.Duration) {}
func (m *NopMetrics) SetInflight(n int)                             {}
func (m *NopMetrics) IncEvents(stage, status string)                {}
