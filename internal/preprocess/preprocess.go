// Package preprocess turns uploaded images into model input tensors.
//
// Images are flattened to opaque RGB, resized to exactly 170x170 (aspect
// ratio is not preserved) and rescaled from [0,255] to [0,1].
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/lesion-api/internal/tensor"
)

var (
	ErrDecode        = errors.New("cannot decode image")
	ErrInterpolation = errors.New("unknown interpolation")
)

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// DefaultInterpolation mirrors the resampling filter the model was trained with.
const DefaultInterpolation = "bicubic"

// Preprocessor converts decoded images into tensor.Input values.
type Preprocessor struct {
	interp resize.InterpolationFunction
}

// New returns a Preprocessor using the named interpolation. An empty name
// selects DefaultInterpolation.
func New(interpolation string) (*Preprocessor, error) {
	name := strings.ToLower(strings.TrimSpace(interpolation))
	if name == "" {
		name = DefaultInterpolation
	}
	interp, ok := interpolations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInterpolation, interpolation)
	}
	return &Preprocessor{interp: interp}, nil
}

// Decode decodes JPEG or PNG bytes and reports the detected format.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// FromBytes decodes data and converts it to a tensor in one step.
func (p *Preprocessor) FromBytes(data []byte) (*tensor.Input, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Tensor(img), nil
}

// Tensor resizes img to the model resolution and rescales it. The resize is
// applied even when img already has the target dimensions.
func (p *Preprocessor) Tensor(img image.Image) *tensor.Input {
	rgb := flatten(img)
	resized := resize.Resize(tensor.Width, tensor.Height, rgb, p.interp)
	return rescale(resized)
}

// flatten converts any color model to an opaque RGBA image at the origin.
// Alpha is dropped from the straight (non-premultiplied) color, so a
// transparent pixel keeps its RGB value instead of turning black.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := x * 4
			row[i] = c.R
			row[i+1] = c.G
			row[i+2] = c.B
			row[i+3] = 0xff
		}
	}
	return dst
}

func rescale(img image.Image) *tensor.Input {
	in := new(tensor.Input)
	b := img.Bounds()

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < tensor.Height; y++ {
			for x := 0; x < tensor.Width; x++ {
				i := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				for c := 0; c < tensor.Channels; c++ {
					in[tensor.Offset(y, x, c)] = float32(rgba.Pix[i+c]) / 255.0
				}
			}
		}
		return in
	}

	for y := 0; y < tensor.Height; y++ {
		for x := 0; x < tensor.Width; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			in[tensor.Offset(y, x, 0)] = float32(c.R) / 255.0
			in[tensor.Offset(y, x, 1)] = float32(c.G) / 255.0
			in[tensor.Offset(y, x, 2)] = float32(c.B) / 255.0
		}
	}
	return in
}
