// Package classify defines the image classification boundary: a scorer
// that maps image bytes to per-category probabilities. Failure never
// crosses this boundary as an error — it is signalled by the reserved
// out-of-range sentinel score, so callers treat every result uniformly.
package classify

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Classifier scores image bytes. Implementations must degrade to the
// failure sentinel internally; no error return crosses this boundary.
type Classifier interface {
	Classify(ctx context.Context, image []byte) Scores
}

// Harm categories scored by the model.
const (
	CategorySexual    = "sexually_explicit"
	CategoryDangerous = "dangerous_content"
	CategoryViolence  = "violence_gore"
)

// Categories returns the scored categories in stable order.
func Categories() []string {
	return []string{CategorySexual, CategoryDangerous, CategoryViolence}
}

// FailureScore is the reserved sentinel: a probability outside [0,1]
// marks a failed classification.
const FailureScore = -1.0

// Scores maps category to probability in [0,1], or FailureScore for
// every category when classification failed.
type Scores map[string]float64

// Failure returns the all-sentinel score set.
func Failure() Scores {
	s := make(Scores, len(Categories()))
	for _, c := range Categories() {
		s[c] = FailureScore
	}
	return s
}

// Failed reports whether s is the failure sentinel.
func (s Scores) Failed() bool {
	if len(s) == 0 {
		return true
	}
	for _, v := range s {
		if v >= 0 {
			return false
		}
	}
	return true
}

// Flagged returns the categories whose probability meets the threshold,
// sorted for stable output. A failed score set flags nothing.
func (s Scores) Flagged(threshold float64) []string {
	var out []string
	for c, v := range s {
		if v >= 0 && v >= threshold {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Summary renders a one-line human verdict at the given threshold.
func Summary(s Scores, threshold float64) string {
	if s.Failed() {
		return "classification failed"
	}

	cats := Categories()
	parts := make([]string, 0, len(cats))
	for _, c := range cats {
		parts = append(parts, fmt.Sprintf("%s (%.4f)", c, s[c]))
	}
	detail := strings.Join(parts, ", ")

	if flagged := s.Flagged(threshold); len(flagged) > 0 {
		return fmt.Sprintf("flagged: %s [%s]", strings.Join(flagged, ", "), detail)
	}
	return "clean [" + detail + "]"
}
