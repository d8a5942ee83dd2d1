package gate

import (
	"errors"
	"math"
)

// ErrInvalidConfidence rejects NaN or out-of-range confidence values.
// Clamping would let a malformed score slide past the threshold, so a bad
// value fails loudly and no item is created.
var ErrInvalidConfidence = errors.New("confidence must be a number in [0.0, 1.0]")

type Decision int

const (
	AutoPublish Decision = iota
	QueueForReview
)

func (d Decision) String() string {
	switch d {
	case AutoPublish:
		return "auto_publish"
	case QueueForReview:
		return "queue_for_review"
	default:
		return "unknown"
	}
}

// Route decides whether a candidate answer publishes immediately or waits
// for a human. Pure decision, no side effects; the caller performs the
// matching state transition.
func Route(confidence, threshold float64) (Decision, error) {
	if math.IsNaN(confidence) || confidence < 0.0 || confidence > 1.0 {
		return QueueForReview, ErrInvalidConfidence
	}

	if confidence >= threshold {
		return AutoPublish, nil
	}
	return QueueForReview, nil
}
