// Package transform applies one deterministic pixel-level filter to an image.
//
// Color filters are 4x5 affine matrices applied per pixel over
// unpremultiplied RGBA. Blur is a downscale/upscale approximation and
// Sharpen is an identity copy; both are known approximations kept for
// compatibility with existing results.
package transform

import (
	"image"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/disintegration/imaging"
)

const op = "transform"

// blurDivisor is the linear downscale factor of the blur approximation.
const blurDivisor = 4

// Apply runs f over img and returns a fresh image with the same dimensions.
// The input is never modified.
func Apply(img image.Image, f Filter) (*image.NRGBA, error) {
	if img == nil {
		return nil, failure.Newf(failure.KindInvalidImage, op, "input image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, failure.Newf(failure.KindInvalidImage, op, "invalid dimensions %dx%d", b.Dx(), b.Dy())
	}
	if err := f.Validate(); err != nil {
		return nil, failure.New(failure.KindInvalidImage, op, err)
	}

	src := imaging.Clone(img)

	switch f.Kind {
	case Blur:
		return blur(src), nil
	case Sharpen:
		return src, nil
	}

	m := MatrixFor(f)
	m.applyNRGBA(src, src)
	return src, nil
}

// MatrixFor returns the color matrix for f. Blur and Sharpen map to identity.
func MatrixFor(f Filter) ColorMatrix {
	switch f.Kind {
	case Grayscale:
		return Saturation(0)
	case Sepia:
		return SepiaMatrix()
	case Invert:
		return InvertMatrix()
	case Brightness:
		v := f.EffectiveFactor()
		return Scale(v, v, v, 1)
	case Contrast:
		return ContrastMatrix(f.EffectiveFactor())
	default:
		return Identity()
	}
}

func blur(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	small := imaging.Resize(src, max(1, w/blurDivisor), max(1, h/blurDivisor), imaging.Linear)
	return imaging.Resize(small, w, h, imaging.Linear)
}
