// Package metrics defines the metrics collected by the bank and journal services.
package metrics

import (
	"time"
)

// Metrics is implemented by the metric collectors.
type Metrics interface {
	// SetBootstrapState records the bootstrap state as a number (0 unenrolled, 1 enrolled, 2 deployed).
	SetBootstrapState(state int)
	// IncRequests counts an http request by route and outcome (ok, error, timeout, bad_request).
	IncRequests(route, outcome string)
	// ObserveCall records the latency of a chaincode call by function.
	ObserveCall(fcn string, latency time.Duration)
	// SetInflight records the number of chaincode calls in progress.
	SetInflight(n int)
	// IncEvents counts transaction events by status and whether they were published or journaled.
	IncEvents(stage, status string)
}
