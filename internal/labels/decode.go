package labels

import (
	"fmt"
)

// Prediction is the decoded outcome of one classification.
type Prediction struct {
	Index      int     `json:"-"`
	Tag        string  `json:"-"`
	Status     Status  `json:"status"`
	Produce    string  `json:"produce"`
	Confidence float32 `json:"confidence"`
}

// Label is the display form, e.g. "Rotten Okra".
func (p Prediction) Label() string {
	return string(p.Status) + " " + p.Produce
}

// Argmax returns the index of the highest score. The first occurrence wins
// on ties.
func Argmax(scores []float32) (int, error) {
	if len(scores) == 0 {
		return 0, ErrEmptyVector
	}
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx, nil
}

// Decode picks the winning class in scores. The confidence is the raw score
// at that index; no renormalization is applied.
func (t *Table) Decode(scores []float32) (Prediction, error) {
	idx, err := Argmax(scores)
	if err != nil {
		return Prediction{}, err
	}
	c, err := t.Class(idx)
	if err != nil {
		return Prediction{}, err
	}
	if c.Status != Fresh && c.Status != Rotten {
		return Prediction{}, fmt.Errorf("%w: index %d", ErrUnknownTag, idx)
	}
	return Prediction{
		Index:      idx,
		Tag:        c.Tag,
		Status:     c.Status,
		Produce:    c.Produce,
		Confidence: scores[idx],
	}, nil
}
