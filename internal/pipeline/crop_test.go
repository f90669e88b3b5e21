package pipeline

import (
	"bytes"
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

func TestResolveBoxFormats(t *testing.T) {
	t.Parallel()

	// 1000x500 image; the same physical region expressed three ways.
	cases := []struct {
		name string
		det  discovery.Detection
	}{
		{"normalized", discovery.Detection{
			Box:    [4]float64{0.2, 0.2, 0.6, 0.6},
			Format: discovery.BoxFormatNormalized,
		}},
		{"pixels xyxy", discovery.Detection{
			Box:    [4]float64{200, 100, 600, 300},
			Format: discovery.BoxFormatPixelsXYXY,
		}},
		{"pixels xywh", discovery.Detection{
			Box:    [4]float64{200, 100, 400, 200},
			Format: discovery.BoxFormatPixelsXYWH,
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rect, err := resolveBox(tc.det, 1000, 500)
			require.NoError(t, err)

			// 10% padding on a 400x200 box.
			require.Equal(t, image.Rect(160, 80, 640, 320), rect)
		})
	}
}

func TestResolveBoxClipsToImage(t *testing.T) {
	t.Parallel()

	det := discovery.Detection{
		Box:    [4]float64{0.0, 0.0, 1.0, 1.0},
		Format: discovery.BoxFormatNormalized,
	}
	rect, err := resolveBox(det, 400, 300)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 400, 300), rect)
}

func TestResolveBoxRejectsDegenerate(t *testing.T) {
	t.Parallel()

	_, err := resolveBox(discovery.Detection{
		Box:    [4]float64{0.5, 0.5, 0.5, 0.5},
		Format: discovery.BoxFormatNormalized,
	}, 400, 300)
	require.Error(t, err)

	_, err = resolveBox(discovery.Detection{
		Box:    [4]float64{300, 200, 100, 50},
		Format: discovery.BoxFormatPixelsXYXY,
	}, 400, 300)
	require.Error(t, err)
}

func TestGuessBoxFormat(t *testing.T) {
	t.Parallel()

	// All coordinates at or below 1 read as normalized.
	require.Equal(t, discovery.BoxFormatNormalized, guessBoxFormat([4]float64{0.1, 0.1, 0.9, 0.9}, 1000, 500))
	require.Equal(t, discovery.BoxFormatNormalized, guessBoxFormat([4]float64{0, 0, 1, 1}, 1000, 500))

	// Consistent corner ordering within bounds reads as xyxy.
	require.Equal(t, discovery.BoxFormatPixelsXYXY, guessBoxFormat([4]float64{200, 100, 600, 300}, 1000, 500))

	// A "corner" beyond the image only makes sense as width/height.
	require.Equal(t, discovery.BoxFormatPixelsXYWH, guessBoxFormat([4]float64{800, 400, 300, 200}, 1000, 500))
}

func TestCropDetectionProducesSmallerJPEG(t *testing.T) {
	t.Parallel()

	src := testJPEG(t, 512, 512)
	cropped, err := cropDetection(src, discovery.Detection{
		Box:    [4]float64{0.25, 0.25, 0.75, 0.75},
		Format: discovery.BoxFormatNormalized,
	})
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(cropped))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)

	// 256 wide plus 10% padding each side.
	require.Equal(t, 308, cfg.Width)
	require.Equal(t, 308, cfg.Height)
}

func TestCropDetectionUndecodableBytes(t *testing.T) {
	t.Parallel()

	_, err := cropDetection([]byte("not an image"), discovery.Detection{
		Box:    [4]float64{0.1, 0.1, 0.9, 0.9},
		Format: discovery.BoxFormatNormalized,
	})
	require.Error(t, err)
}
