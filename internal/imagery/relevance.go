package imagery

import (
	"net/url"
	"strings"
)

// DefaultSpeciesKeywords are the high-precision vocabulary: species and
// common names plus body terms that strongly suggest subject imagery.
var DefaultSpeciesKeywords = []string{
	"tiger",
	"tigris",
	"panthera",
	"bengal",
	"sumatran",
	"siberian",
	"amur",
	"malayan",
	"indochinese",
	"stripe",
	"cub",
}

// DefaultGenericKeywords are the low-precision vocabulary, kept broad
// deliberately: downstream detection is the real filter, so recall
// beats precision here.
var DefaultGenericKeywords = []string{
	"animal",
	"wildlife",
	"big-cat",
	"bigcat",
	"feline",
	"cat",
	"zoo",
	"sanctuary",
	"exhibit",
	"enclosure",
	"habitat",
	"rescue",
}

// RelevanceFilter accepts image URLs whose path mentions the species
// vocabulary or, failing that, the generic-animal vocabulary.
type RelevanceFilter struct {
	keywords []string
}

// NewRelevanceFilter builds a filter. Nil slices fall back to the
// package defaults.
func NewRelevanceFilter(species, generic []string) *RelevanceFilter {
	if species == nil {
		species = DefaultSpeciesKeywords
	}
	if generic == nil {
		generic = DefaultGenericKeywords
	}
	keywords := make([]string, 0, len(species)+len(generic))
	for _, kw := range append(append([]string{}, species...), generic...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &RelevanceFilter{keywords: keywords}
}

// IsPotentialMatch reports whether the URL is worth downloading. Only
// the path and query are matched; hostnames like zoo.example would
// otherwise accept everything on the site.
func (f *RelevanceFilter) IsPotentialMatch(rawURL string) bool {
	haystack := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		haystack = u.Path
		if u.RawQuery != "" {
			haystack += "?" + u.RawQuery
		}
	}
	lower := strings.ToLower(haystack)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
