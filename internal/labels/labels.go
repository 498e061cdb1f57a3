// Package labels maps classifier scores to human readable class names.
package labels

import (
	"errors"
	"fmt"
)

var ErrIndexOutOfRange = errors.New("score vector does not match label table")

// Table is an ordered list of class names, index-aligned with the model output.
type Table []string

// Default is the label encoding the skin lesion model was trained with.
var Default = Table{"Non-cancerous", "Cancerous"}

// Map returns the label with the highest score. Ties go to the lowest index
// and NaN scores never win.
func (t Table) Map(scores []float32) (string, int, error) {
	if len(scores) == 0 || len(scores) != len(t) {
		return "", -1, fmt.Errorf("%w: %d scores for %d labels", ErrIndexOutOfRange, len(scores), len(t))
	}

	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal || (maxVal != maxVal && val == val) {
			maxVal = val
			maxIdx = i
		}
	}
	return t[maxIdx], maxIdx, nil
}

// Equal reports whether other lists the same names in the same order.
func (t Table) Equal(other []string) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}
