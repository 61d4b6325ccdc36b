package recommend

import (
	"cmp"
	"slices"
	"strings"
)

// Signal names a scoring factor as it appears in the rubric.
type Signal string

const (
	SignalOverdue    Signal = "Overdue"
	SignalLowMastery Signal = "LowEMA"
	SignalEarlyOrder Signal = "Order"
	SignalRecent     Signal = "Recent"
	SignalTooLong    Signal = "TooLong"
)

// Reasons attached to candidates, one per signal that fired.
const (
	ReasonOverdue    = "overdue"
	ReasonLowMastery = "low mastery"
	ReasonEarlyOrder = "early order"
	ReasonLongLesson = "long lesson"
	ReasonRecent     = "recent"
)

// Weights are the score contributions of each signal. Recent and TooLong
// are penalties and are subtracted.
type Weights struct {
	Overdue    float64 `json:"overdue"`
	LowMastery float64 `json:"lowMastery"`
	EarlyOrder float64 `json:"earlyOrder"`
	Recent     float64 `json:"recent"`
	TooLong    float64 `json:"tooLong"`
}

// DefaultWeights returns the reference weighting.
func DefaultWeights() Weights {
	return Weights{
		Overdue:    0.40,
		LowMastery: 0.25,
		EarlyOrder: 0.15,
		Recent:     0.10,
		TooLong:    0.05,
	}
}

// term is one signed entry of the weight table.
type term struct {
	signal Signal
	delta  float64
}

// table lists every signal with its signed contribution, in declaration
// order.
func (w Weights) table() []term {
	return []term{
		{SignalOverdue, w.Overdue},
		{SignalLowMastery, w.LowMastery},
		{SignalEarlyOrder, w.EarlyOrder},
		{SignalRecent, -w.Recent},
		{SignalTooLong, -w.TooLong},
	}
}

func (w Weights) delta(s Signal) float64 {
	for _, t := range w.table() {
		if t.signal == s {
			return t.delta
		}
	}
	return 0
}

// Rubric renders the precedence implied by the weights: bonuses from
// largest to smallest joined by ">", then penalties from largest to
// smallest, each prefixed "-". Zero weights are omitted.
func (w Weights) Rubric() string {
	var pos, neg []term
	for _, t := range w.table() {
		switch {
		case t.delta > 0:
			pos = append(pos, t)
		case t.delta < 0:
			neg = append(neg, t)
		}
	}
	slices.SortStableFunc(pos, func(a, b term) int { return cmp.Compare(b.delta, a.delta) })
	slices.SortStableFunc(neg, func(a, b term) int { return cmp.Compare(a.delta, b.delta) })

	bonus := make([]string, len(pos))
	for i, t := range pos {
		bonus[i] = string(t.signal)
	}
	penalty := make([]string, len(neg))
	for i, t := range neg {
		penalty[i] = "-" + string(t.signal)
	}

	switch {
	case len(penalty) == 0:
		return strings.Join(bonus, ">")
	case len(bonus) == 0:
		return strings.Join(penalty, " ")
	}
	return strings.Join(bonus, ">") + " | " + strings.Join(penalty, " ")
}
