// Package detector decides when to promote fetches to the headless renderer.
package detector

import (
	"bytes"
	"strings"
)

// DefaultIndicators is the stock vocabulary of SPA, hydration and
// lazy-load markers. A page containing enough distinct markers likely
// builds its image tags client-side, so a static fetch sees nothing.
var DefaultIndicators = []string{
	"react",
	"vue",
	"angular",
	"__next",
	"data-reactroot",
	"ng-app",
	"nuxt",
	"svelte",
	"data-src=",
	"data-lazy",
	"loading=\"lazy\"",
	"lazyload",
	"window.__initial_state__",
	"window.__apollo_state__",
	"hydrate",
	"spa-",
}

// DefaultThreshold is the number of distinct indicators that classifies
// a page as JS-heavy.
const DefaultThreshold = 2

// Heuristic classifies pages as JS-heavy by counting distinct
// indicator keywords, case-insensitively.
type Heuristic struct {
	indicators [][]byte
	threshold  int
}

// NewHeuristic constructs a Heuristic over the given vocabulary. Empty
// keywords are dropped; nil falls back to DefaultIndicators, a
// non-positive threshold to DefaultThreshold.
func NewHeuristic(indicators []string, threshold int) *Heuristic {
	if indicators == nil {
		indicators = DefaultIndicators
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	lowered := make([][]byte, 0, len(indicators))
	for _, kw := range indicators {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		lowered = append(lowered, []byte(kw))
	}
	return &Heuristic{indicators: lowered, threshold: threshold}
}

// IsJSHeavy reports whether the body contains at least the threshold
// number of distinct indicators.
func (h *Heuristic) IsJSHeavy(body []byte) bool {
	return h.IndicatorCount(body) >= h.threshold
}

// IndicatorCount returns how many distinct indicators appear in body.
func (h *Heuristic) IndicatorCount(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	lower := bytes.ToLower(body)
	count := 0
	for _, kw := range h.indicators {
		if bytes.Contains(lower, kw) {
			count++
		}
	}
	return count
}
