package controller

import (
	"github.com/c360/watchpost/controller/query"
	"github.com/c360/watchpost/message"
)

// Decision is the outcome of evaluating one drained batch.
type Decision struct {
	// Alert is the query result.
	Alert bool
	// Batch holds the payload of every alerting event, grouped by sender in
	// order of first appearance.
	Batch []any
	// Verdicts maps each sender seen to whether it alerted.
	Verdicts map[string]bool
	// Expression is the query after substitution.
	Expression string
	// Err is set when the expression did not evaluate; Alert is then false.
	Err error
}

// Decide groups events by sender, substitutes each sender's verdict into the
// template and evaluates it. A sender with at least one alerting event is
// true and contributes all of its alerting payloads; a sender with only
// non-alerting events is false; senders absent from events are false.
func Decide(template string, events []message.Event) Decision {
	var order []string
	groups := make(map[string][]message.Event)
	for _, ev := range events {
		if _, ok := groups[ev.Sender]; !ok {
			order = append(order, ev.Sender)
		}
		groups[ev.Sender] = append(groups[ev.Sender], ev)
	}

	d := Decision{Verdicts: make(map[string]bool, len(order))}
	for _, sender := range order {
		alerted := false
		for _, ev := range groups[sender] {
			if ev.Alert {
				alerted = true
				d.Batch = append(d.Batch, ev.Payload)
			}
		}
		d.Verdicts[sender] = alerted
	}

	d.Expression = query.Substitute(template, d.Verdicts)
	result, err := query.Evaluate(d.Expression)
	if err != nil {
		d.Err = err
		return d
	}
	d.Alert = result
	return d
}
