package transform

import (
	"image"
	"math"
)

// ColorMatrix is a 4x5 affine transform over unpremultiplied R, G, B, A
// channels in the 0..255 range. Row i computes output channel i as
//
//	out[i] = m[i][0]*R + m[i][1]*G + m[i][2]*B + m[i][3]*A + m[i][4]
type ColorMatrix [4][5]float64

// Luminance weights used for saturation changes.
const (
	lumR = 0.213
	lumG = 0.715
	lumB = 0.072
)

// Identity returns the identity matrix.
func Identity() ColorMatrix {
	return ColorMatrix{
		{1, 0, 0, 0, 0},
		{0, 1, 0, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 1, 0},
	}
}

// Scale multiplies each channel by its own factor.
func Scale(r, g, b, a float64) ColorMatrix {
	return ColorMatrix{
		{r, 0, 0, 0, 0},
		{0, g, 0, 0, 0},
		{0, 0, b, 0, 0},
		{0, 0, 0, a, 0},
	}
}

// Saturation blends each pixel towards its luminance. 0 is grayscale, 1 is identity.
func Saturation(s float64) ColorMatrix {
	inv := 1 - s
	r, g, b := lumR*inv, lumG*inv, lumB*inv
	return ColorMatrix{
		{r + s, g, b, 0, 0},
		{r, g + s, b, 0, 0},
		{r, g, b + s, 0, 0},
		{0, 0, 0, 1, 0},
	}
}

// InvertMatrix maps each color channel c to 255-c and keeps alpha.
func InvertMatrix() ColorMatrix {
	return ColorMatrix{
		{-1, 0, 0, 0, 255},
		{0, -1, 0, 0, 255},
		{0, 0, -1, 0, 255},
		{0, 0, 0, 1, 0},
	}
}

// ContrastMatrix scales color channels by f around mid gray.
func ContrastMatrix(f float64) ColorMatrix {
	off := (1 - f) / 2 * 255
	return ColorMatrix{
		{f, 0, 0, 0, off},
		{0, f, 0, 0, off},
		{0, 0, f, 0, off},
		{0, 0, 0, 1, 0},
	}
}

// SepiaMatrix warms the pixel, then desaturates the result by half.
func SepiaMatrix() ColorMatrix {
	return Concat(Scale(1, 0.95, 0.82, 1), Saturation(0.5))
}

// Concat returns the matrix equivalent to applying first and then second.
func Concat(first, second ColorMatrix) ColorMatrix {
	var out ColorMatrix
	for i := range 4 {
		for j := range 5 {
			var sum float64
			for k := range 4 {
				sum += second[i][k] * first[k][j]
			}
			if j == 4 {
				sum += second[i][4]
			}
			out[i][j] = sum
		}
	}
	return out
}

// Apply transforms a single unpremultiplied pixel.
func (m ColorMatrix) Apply(r, g, b, a uint8) (uint8, uint8, uint8, uint8) {
	in := [4]float64{float64(r), float64(g), float64(b), float64(a)}
	var out [4]uint8
	for i := range 4 {
		row := m[i]
		v := row[0]*in[0] + row[1]*in[1] + row[2]*in[2] + row[3]*in[3] + row[4]
		out[i] = clamp8(v)
	}
	return out[0], out[1], out[2], out[3]
}

// applyNRGBA writes m(src) into dst. Both must share bounds.
func (m ColorMatrix) applyNRGBA(dst, src *image.NRGBA) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := range h {
		si := y * src.Stride
		di := y * dst.Stride
		for x := 0; x < w*4; x += 4 {
			s := src.Pix[si+x : si+x+4 : si+x+4]
			d := dst.Pix[di+x : di+x+4 : di+x+4]
			d[0], d[1], d[2], d[3] = m.Apply(s[0], s[1], s[2], s[3])
		}
	}
}

// clamp8 rounds half away from zero and clamps to 0..255.
func clamp8(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
