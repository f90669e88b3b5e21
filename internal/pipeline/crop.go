package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// cropPadding is added on each side of the detection box before
// clipping to the image bounds.
const cropPadding = 0.10

const cropJPEGQuality = 90

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropDetection cuts the padded detection box out of the image and
// re-encodes it as JPEG. Callers fall back to the uncropped bytes on
// error rather than dropping the image.
func cropDetection(imageBytes []byte, det discovery.Detection) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()

	rect, err := resolveBox(det, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	rect = rect.Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("detection box outside image bounds")
	}

	var cropped image.Image
	if si, ok := img.(subImager); ok {
		cropped = si.SubImage(rect)
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
		cropped = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: cropJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// resolveBox converts a detection box into a padded pixel rectangle.
// Detectors should declare their box format; for unspecified formats a
// magnitude heuristic disambiguates, which can mis-crop edge cases and
// is kept only for collaborators that predate the format field.
func resolveBox(det discovery.Detection, width, height int) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("empty image")
	}
	b := det.Box

	format := det.Format
	if format == discovery.BoxFormatUnspecified {
		format = guessBoxFormat(b, width, height)
	}

	var x1, y1, x2, y2 float64
	switch format {
	case discovery.BoxFormatNormalized:
		x1, y1 = b[0]*float64(width), b[1]*float64(height)
		x2, y2 = b[2]*float64(width), b[3]*float64(height)
	case discovery.BoxFormatPixelsXYXY:
		x1, y1, x2, y2 = b[0], b[1], b[2], b[3]
	case discovery.BoxFormatPixelsXYWH:
		x1, y1 = b[0], b[1]
		x2, y2 = b[0]+b[2], b[1]+b[3]
	default:
		return image.Rectangle{}, fmt.Errorf("unknown box format %q", format)
	}
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, fmt.Errorf("degenerate box [%v %v %v %v]", b[0], b[1], b[2], b[3])
	}

	padX := (x2 - x1) * cropPadding
	padY := (y2 - y1) * cropPadding
	rect := image.Rect(
		int(x1-padX), int(y1-padY),
		int(x2+padX+0.5), int(y2+padY+0.5),
	).Intersect(image.Rect(0, 0, width, height))
	if rect.Empty() {
		return image.Rectangle{}, fmt.Errorf("box [%v %v %v %v] outside %dx%d image", b[0], b[1], b[2], b[3], width, height)
	}
	return rect, nil
}

// guessBoxFormat is the legacy magnitude heuristic: coordinates all at
// or below 1 are normalized; otherwise the box is pixels, read as
// [x1,y1,x2,y2] when that interpretation is consistent and [x,y,w,h]
// when it is not.
func guessBoxFormat(b [4]float64, width, height int) discovery.BoxFormat {
	if b[0] <= 1 && b[1] <= 1 && b[2] <= 1 && b[3] <= 1 {
		return discovery.BoxFormatNormalized
	}
	if b[2] > b[0] && b[3] > b[1] && b[2] <= float64(width) && b[3] <= float64(height) {
		return discovery.BoxFormatPixelsXYXY
	}
	return discovery.BoxFormatPixelsXYWH
}
