// Package imagery extracts candidate image and gallery URLs from
// fetched page content and filters them for relevance.
package imagery

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// imageExtensions is the fixed set of file extensions accepted as
// downloadable images.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".bmp":  {},
}

// DefaultGalleryPatterns match anchor paths that typically lead to
// photo collections on facility sites.
var DefaultGalleryPatterns = []string{
	`/gallery`,
	`/galleries`,
	`/photos?`,
	`/pictures`,
	`/animals?`,
	`/tigers?`,
	`/big-?cats?`,
	`/residents`,
	`/meet-`,
	`/our-animals`,
}

// srcAttrs are the attributes scanned on img tags, in preference
// order. Lazy-load attributes come after src so a populated src wins.
var srcAttrs = []string{"src", "data-src", "data-lazy-src", "data-original"}

var backgroundImageRe = regexp.MustCompile(`(?i)background(?:-image)?\s*:\s*url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// Extractor pulls image URLs and gallery links out of HTML.
type Extractor struct {
	galleryRes []*regexp.Regexp
}

// NewExtractor builds an Extractor. Nil patterns fall back to
// DefaultGalleryPatterns; invalid patterns are skipped.
func NewExtractor(galleryPatterns []string) *Extractor {
	if galleryPatterns == nil {
		galleryPatterns = DefaultGalleryPatterns
	}
	res := make([]*regexp.Regexp, 0, len(galleryPatterns))
	for _, p := range galleryPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			continue
		}
		res = append(res, re)
	}
	return &Extractor{galleryRes: res}
}

// ExtractImages returns absolute image URLs found in the content: img
// tags (including common lazy-load attributes) and inline
// background-image styles, filtered to known image extensions.
func (e *Extractor) ExtractImages(content []byte, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		abs, ok := resolveImageURL(base, raw)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range srcAttrs {
			if raw, ok := sel.Attr(attr); ok && strings.TrimSpace(raw) != "" {
				add(raw)
			}
		}
	})
	doc.Find("[style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		for _, m := range backgroundImageRe.FindAllStringSubmatch(style, -1) {
			add(m[1])
		}
	})
	return out
}

// FindGalleryLinks returns absolute anchor URLs on the same domain as
// the base URL whose path matches a gallery pattern. Cross-domain
// galleries are never followed.
func (e *Extractor) FindGalleryLinks(content []byte, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs := resolveURL(base, href)
		if abs == nil {
			return
		}
		if !strings.EqualFold(abs.Hostname(), base.Hostname()) {
			return
		}
		if !e.matchesGallery(abs.Path) {
			return
		}
		key := abs.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	})
	return out
}

func (e *Extractor) matchesGallery(path string) bool {
	for _, re := range e.galleryRes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func resolveImageURL(base *url.URL, raw string) (string, bool) {
	abs := resolveURL(base, raw)
	if abs == nil {
		return "", false
	}
	if !hasImageExtension(abs.Path) {
		return "", false
	}
	return abs.String(), true
}

func resolveURL(base *url.URL, raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "#") {
		return nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil
	}
	abs.Fragment = ""
	return abs
}

func hasImageExtension(path string) bool {
	lower := strings.ToLower(path)
	if idx := strings.LastIndexByte(lower, '.'); idx >= 0 {
		_, ok := imageExtensions[lower[idx:]]
		return ok
	}
	return false
}
