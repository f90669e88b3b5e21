package imagery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const galleryPage = `<html><body>
<img src="/images/tiger-1.jpg">
<img src="//cdn.example.com/photos/tiger-2.png">
<img data-src="relative/tiger-3.jpeg">
<img src="/scripts/app.js">
<div style="background-image: url('/assets/hero-tiger.webp')"></div>
<a href="/gallery/tigers">Gallery</a>
<a href="/photos">Photos</a>
<a href="/about">About</a>
<a href="https://other.example.net/gallery">External gallery</a>
</body></html>`

func TestExtractImages_NormalizesAndFilters(t *testing.T) {
	t.Parallel()

	e := NewExtractor(nil)
	urls := e.ExtractImages([]byte(galleryPage), "https://zoo.example.com/animals/")

	require.Equal(t, []string{
		"https://zoo.example.com/images/tiger-1.jpg",
		"https://cdn.example.com/photos/tiger-2.png",
		"https://zoo.example.com/animals/relative/tiger-3.jpeg",
		"https://zoo.example.com/assets/hero-tiger.webp",
	}, urls)
}

func TestExtractImages_SkipsDataURIsAndDuplicates(t *testing.T) {
	t.Parallel()

	page := `<img src="data:image/png;base64,AAAA"><img src="/t.jpg"><img src="/t.jpg">`
	e := NewExtractor(nil)
	urls := e.ExtractImages([]byte(page), "https://zoo.example.com/")
	require.Equal(t, []string{"https://zoo.example.com/t.jpg"}, urls)
}

func TestFindGalleryLinks_SameDomainOnly(t *testing.T) {
	t.Parallel()

	e := NewExtractor(nil)
	links := e.FindGalleryLinks([]byte(galleryPage), "https://zoo.example.com/")

	require.Equal(t, []string{
		"https://zoo.example.com/gallery/tigers",
		"https://zoo.example.com/photos",
	}, links)
}

func TestFindGalleryLinks_CustomPatterns(t *testing.T) {
	t.Parallel()

	page := `<a href="/bildergalerie">Galerie</a><a href="/kontakt">Kontakt</a>`
	e := NewExtractor([]string{`/bildergalerie`})
	links := e.FindGalleryLinks([]byte(page), "https://tierpark.example.de/")
	require.Equal(t, []string{"https://tierpark.example.de/bildergalerie"}, links)
}

func TestRelevanceFilter_SpeciesAndGenericVocabularies(t *testing.T) {
	t.Parallel()

	f := NewRelevanceFilter(nil, nil)

	require.True(t, f.IsPotentialMatch("https://zoo.example.com/images/bengal-TIGER.jpg"))
	require.True(t, f.IsPotentialMatch("https://zoo.example.com/img/wildlife/photo-17.jpg"))
	require.True(t, f.IsPotentialMatch("https://cdn.example.com/photo?tag=sumatran"))
	require.False(t, f.IsPotentialMatch("https://zoo.example.com/img/logo.png"))
	require.False(t, f.IsPotentialMatch("https://zoo.example.com/css/sprite.png"))
}

func TestRelevanceFilter_CustomVocabulary(t *testing.T) {
	t.Parallel()

	f := NewRelevanceFilter([]string{"lynx"}, []string{})
	require.True(t, f.IsPotentialMatch("https://zoo.example.com/lynx-03.jpg"))
	require.False(t, f.IsPotentialMatch("https://zoo.example.com/tiger.jpg"))
}
