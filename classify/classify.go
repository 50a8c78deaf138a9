// Package classify wraps an external protocol identification engine behind
// the narrow interface the flow tables consume. Each flow is dissected for a
// bounded number of packets; afterwards admission is pure pass-through.
package classify

import "github.com/CN-TU/go-meter/flow"

// AppUnknown is the terminal label of flows the classifier could not name.
// Not an error condition.
const AppUnknown = "unknown"

// Classification is the delta produced by one dissected packet.
type Classification struct {
	// App is the protocol label, empty if this packet taught us nothing.
	App string
	// Confidence in [0,1].
	Confidence float64
	// Final marks the classification as confident enough to stop
	// dissecting this flow.
	Final bool
}

// Classifier produces a classification delta from a single packet. Given
// identical packets it must produce identical deltas; implementations are
// called from multiple workers concurrently, but never for the same flow.
type Classifier interface {
	Name() string
	Classify(ev flow.Event, r *flow.Record) Classification
}

// Adapter drives a Classifier under a per-flow dissection budget and
// implements flow.Dissector.
type Adapter struct {
	classifier Classifier
	budget     int
}

// NewAdapter wraps classifier with a per-flow packet budget. A budget of
// zero disables dissection entirely; the adapter then only settles flows on
// AppUnknown.
func NewAdapter(classifier Classifier, budget int) *Adapter {
	return &Adapter{classifier: classifier, budget: budget}
}

// Dissect classifies ev for r unless the flow's budget is exhausted or a
// confident label was already reached.
func (a *Adapter) Dissect(ev flow.Event, r *flow.Record) {
	if r.AppFinal {
		return
	}
	if a.budget <= 0 || a.classifier == nil || r.Dissections >= a.budget {
		a.settle(r)
		return
	}
	delta := a.classifier.Classify(ev, r)
	r.Dissections++
	if delta.App != "" && delta.Confidence >= r.AppConfidence {
		r.App = delta.App
		r.AppConfidence = delta.Confidence
	}
	if delta.Final || r.Dissections >= a.budget {
		a.settle(r)
	}
}

func (a *Adapter) settle(r *flow.Record) {
	r.AppFinal = true
	if r.App == "" {
		r.App = AppUnknown
	}
}
