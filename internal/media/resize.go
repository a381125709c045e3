package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// resizeToFit decodes an image and, if its longer edge exceeds targetDim,
// downscales it to targetDim on the longer edge using Lanczos resampling,
// re-encoding as JPEG. Images already within bounds are re-encoded as-is,
// which also normalizes exotic source formats (e.g. platform-specific webp)
// to the one format every downstream consumer (vision model, resend) expects.
func resizeToFit(data []byte, targetDim int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longer := w
	if h > longer {
		longer = h
	}

	var out image.Image = img
	if longer > targetDim {
		scale := float64(targetDim) / float64(longer)
		out = imaging.Resize(img, int(float64(w)*scale), int(float64(h)*scale), imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("media: encode image: %w", err)
	}
	return buf.Bytes(), nil
}
