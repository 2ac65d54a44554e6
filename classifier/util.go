package classifier

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// Decode reads an uploaded image and honours EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// Preprocess resizes img to size x size and lays its RGB pixels out as a
// single-image batch, each channel scaled to [0, scale].
func Preprocess(img image.Image, size int, layout Layout, scale float32) []float32 {
	img = imaging.Resize(img, size, size, imaging.Lanczos)

	plane := size * size
	out := make([]float32, 3*plane)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			fr := float32(r) / 65535.0 * scale
			fg := float32(g) / 65535.0 * scale
			fb := float32(b) / 65535.0 * scale

			if layout == NCHW {
				out[i] = fr
				out[plane+i] = fg
				out[2*plane+i] = fb
			} else {
				out[3*i] = fr
				out[3*i+1] = fg
				out[3*i+2] = fb
			}
			i++
		}
	}
	return out
}

// Thumbnail returns a copy of img that fits in a size x size box.
func Thumbnail(img image.Image, size int) image.Image {
	return imaging.Fit(img, size, size, imaging.Lanczos)
}

func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		maxV = max(maxV, v)
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// inputGeometry infers the tensor layout and spatial size from the model's
// input dimensions, falling back to fallbackSize for dynamic axes.
func inputGeometry(dims []int64, fallbackSize int) (Layout, int) {
	if len(dims) != 4 {
		return NHWC, fallbackSize
	}
	if dims[1] == 3 && dims[3] != 3 {
		if dims[2] > 0 {
			return NCHW, int(dims[2])
		}
		return NCHW, fallbackSize
	}
	if dims[1] > 0 {
		return NHWC, int(dims[1])
	}
	return NHWC, fallbackSize
}
