// Package inference – image preprocessing.
//
// The model is a learned numeric function that is sensitive to preprocessing
// skew: the resize geometry, pixel scale, and channel ordering here must
// match the training recipe bit-for-bit. The recipe is the EfficientNet one:
// resize to N×N (224 default) with bilinear interpolation, RGB channel
// order, float32 values kept on the 0..255 scale (EfficientNet normalizes
// inside the network).
package inference

import (
	"bytes"
	"fmt"
	"image"

	// Register the decoders for the formats doctors upload.
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// DecodeImage decodes uploaded image bytes into an image.Image. A decode
// failure is a data-quality error scoped to that image, not to the checkup.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ResizeSquare scales an image to size×size with bilinear interpolation,
// matching the training-time resize.
func ResizeSquare(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// Tensor is a H×W×3 float32 array in RGB order on the 0..255 pixel scale,
// the exact input geometry the model expects.
type Tensor [][][3]float32

// ImageTensor resizes and converts an image to its model input tensor.
func ImageTensor(img image.Image, size int) Tensor {
	rgba := ResizeSquare(img, size)
	t := make(Tensor, size)
	for y := 0; y < size; y++ {
		row := make([][3]float32, size)
		for x := 0; x < size; x++ {
			c := rgba.RGBAAt(x, y)
			// Keep the raw 0..255 scale; the network owns normalization.
			row[x] = [3]float32{float32(c.R), float32(c.G), float32(c.B)}
		}
		t[y] = row
	}
	return t
}
