package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// EnhanceImage re-encodes a receipt photo into a form the OCR provider
// reads more reliably: grayscale, boosted contrast, sharpened, slightly
// brightened, gamma-corrected. Callers should fall back to the original
// bytes when this fails; a photo we cannot decode may still be one the
// provider can.
func EnhanceImage(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
