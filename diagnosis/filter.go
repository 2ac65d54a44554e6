package diagnosis

import (
	"sort"
	"strings"
)

// DefaultThreshold is the confidence, in percent, a diagnosis must exceed.
const DefaultThreshold = 10

type Candidate struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

type Result struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	// Filtered holds the crop-filtered scores, aligned with the label table.
	Filtered []float32 `json:"-"`
	labels   []string
}

// Accepted reports whether the result clears threshold percent.
func (r Result) Accepted(threshold float32) bool {
	return r.Confidence > threshold
}

// Top returns up to n non-zero filtered candidates, best first.
func (r Result) Top(n int) []Candidate {
	var items []Candidate
	for i, v := range r.Filtered {
		if v > 0 {
			items = append(items, Candidate{Label: r.labels[i], Confidence: v * 100})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Confidence > items[j].Confidence
	})
	if n >= 0 && len(items) > n {
		items = items[:n]
	}
	return items
}

// Filter zeroes every score whose label does not mention crop, along with the
// placeholder class, and picks the best remaining class. Ties go to the lowest
// index; when everything is zeroed the result is index 0 with confidence 0.
func Filter(scores []float32, crop string, labels []string) Result {
	needle := strings.ToLower(crop)
	filtered := make([]float32, len(labels))
	for i, label := range labels {
		if i >= len(scores) {
			break
		}
		if !strings.Contains(strings.ToLower(label), needle) {
			continue
		}
		if label == PlaceholderLabel {
			continue
		}
		filtered[i] = scores[i]
	}

	best := 0
	for i, v := range filtered {
		if v > filtered[best] {
			best = i
		}
	}

	res := Result{Index: best, Filtered: filtered, labels: labels}
	if len(labels) > 0 {
		res.Label = labels[best]
		res.Confidence = filtered[best] * 100
	}
	return res
}
