// Package quality scores image suitability for identification work.
package quality

import (
	"bytes"
	"image"
	"math"

	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// Scoring weights for the composite score.
const (
	blurWeight       = 0.3
	resolutionWeight = 0.3
	brightnessWeight = 0.2
	contrastWeight   = 0.2
)

// Default thresholds. An image failing a hard floor is rejected no
// matter how the composite comes out.
const (
	DefaultAcceptanceFloor = 40.0
	DefaultMinResolution   = 200

	neutralScore = 50.0

	blurHardFloor     = 20.0
	darkLuminance     = 40.0
	brightLuminance   = 215.0
	contrastHardFloor = 20.0

	// Full-score reference points for the sub-score mappings.
	fullScoreMinDimension = 800.0
	fullScoreEdgeVariance = 500.0
	fullScoreLuminanceSD  = 64.0

	// Luminance samples are taken on a grid of at most this many
	// points per axis to keep scoring cheap on large images.
	sampleGrid = 256
)

// Issue strings attached to rejected images.
const (
	IssueTooBlurry   = "too blurry"
	IssueLowRes      = "resolution too low"
	IssueTooDark     = "too dark"
	IssueTooBright   = "too bright"
	IssueLowContrast = "contrast too low"
	IssueUnreadable  = "unreadable image data"
)

// Assessor computes composite quality scores from raw image bytes.
type Assessor struct {
	floor         float64
	minResolution int
}

// NewAssessor builds an Assessor. Non-positive arguments fall back to
// the defaults.
func NewAssessor(acceptanceFloor float64, minResolution int) *Assessor {
	if acceptanceFloor <= 0 {
		acceptanceFloor = DefaultAcceptanceFloor
	}
	if minResolution <= 0 {
		minResolution = DefaultMinResolution
	}
	return &Assessor{floor: acceptanceFloor, minResolution: minResolution}
}

// Assess decodes the image and scores it. When only the header can be
// decoded, scoring falls back to resolution-only with neutral scores
// for the pixel measures; when not even dimensions are readable the
// image is rejected outright.
func (a *Assessor) Assess(imageBytes []byte) discovery.QualityScore {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(imageBytes))
		if cfgErr != nil {
			return discovery.QualityScore{Issues: []string{IssueUnreadable}}
		}
		resScore, issues := a.resolutionScore(cfg.Width, cfg.Height)
		return a.evaluate(neutralScore, resScore, neutralScore, neutralScore, issues)
	}

	bounds := img.Bounds()
	resScore, issues := a.resolutionScore(bounds.Dx(), bounds.Dy())

	lum := sampleLuminance(img)
	mean, sd := luminanceStats(lum)
	edgeVar := edgeVariance(lum)

	blurScore := math.Min(100, edgeVar/fullScoreEdgeVariance*100)
	if blurScore < blurHardFloor {
		issues = append(issues, IssueTooBlurry)
	}

	brightnessScore := 100 - math.Abs(mean-128)/128*100
	if mean < darkLuminance {
		issues = append(issues, IssueTooDark)
	} else if mean > brightLuminance {
		issues = append(issues, IssueTooBright)
	}

	contrastScore := math.Min(100, sd/fullScoreLuminanceSD*100)
	if contrastScore < contrastHardFloor {
		issues = append(issues, IssueLowContrast)
	}

	return a.evaluate(blurScore, resScore, brightnessScore, contrastScore, issues)
}

// evaluate combines sub-scores into the final QualityScore. Exposed
// through Assess; kept separate so the acceptance boundary is testable
// without constructing images with exact pixel statistics.
func (a *Assessor) evaluate(blur, resolution, brightness, contrast float64, issues []string) discovery.QualityScore {
	score := blur*blurWeight + resolution*resolutionWeight + brightness*brightnessWeight + contrast*contrastWeight
	return discovery.QualityScore{
		Score:           score,
		BlurScore:       blur,
		ResolutionScore: resolution,
		BrightnessScore: brightness,
		ContrastScore:   contrast,
		IsAcceptable:    score >= a.floor && len(issues) == 0,
		Issues:          issues,
	}
}

func (a *Assessor) resolutionScore(width, height int) (float64, []string) {
	minDim := width
	if height < minDim {
		minDim = height
	}
	score := math.Min(100, float64(minDim)/fullScoreMinDimension*100)
	if minDim < a.minResolution {
		return score, []string{IssueLowRes}
	}
	return score, nil
}

// sampleLuminance returns luminance values on a bounded grid over the
// image.
func sampleLuminance(img image.Image) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	cols, rows := w, h
	if cols > sampleGrid {
		cols = sampleGrid
	}
	if rows > sampleGrid {
		rows = sampleGrid
	}
	if cols == 0 || rows == 0 {
		return nil
	}

	lum := make([][]float64, rows)
	for ry := 0; ry < rows; ry++ {
		lum[ry] = make([]float64, cols)
		y := bounds.Min.Y + ry*h/rows
		for rx := 0; rx < cols; rx++ {
			x := bounds.Min.X + rx*w/cols
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma on 8-bit channels.
			lum[ry][rx] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return lum
}

func luminanceStats(lum [][]float64) (mean, sd float64) {
	n := 0
	for _, row := range lum {
		for _, v := range row {
			mean += v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean /= float64(n)
	for _, row := range lum {
		for _, v := range row {
			d := v - mean
			sd += d * d
		}
	}
	return mean, math.Sqrt(sd / float64(n))
}

// edgeVariance is a Laplacian-style sharpness measure: the variance of
// the 4-neighbor second derivative over the luminance grid. Blurry
// images have flat gradients and a variance near zero.
func edgeVariance(lum [][]float64) float64 {
	rows := len(lum)
	if rows < 3 {
		return 0
	}
	cols := len(lum[0])
	if cols < 3 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < rows-1; y++ {
		for x := 1; x < cols-1; x++ {
			lap := 4*lum[y][x] - lum[y][x-1] - lum[y][x+1] - lum[y-1][x] - lum[y+1][x]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	m := sum / float64(n)
	return sumSq/float64(n) - m*m
}
