package transform

import (
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 7), uint8(y * 13), uint8((x + y) * 3), uint8(200 + x%56)})
		}
	}
	return img
}

func TestApply_PreservesDimensions(t *testing.T) {
	src := gradient(37, 23)
	filters := []Filter{
		{Kind: Grayscale}, {Kind: Sepia}, {Kind: Invert}, {Kind: Blur}, {Kind: Sharpen},
		BrightnessFilter(1.2), ContrastFilter(1.5),
	}

	for _, f := range filters {
		t.Run(f.String(), func(t *testing.T) {
			out, err := Apply(src, f)
			require.NoError(t, err)
			assert.Equal(t, src.Bounds().Size(), out.Bounds().Size())
		})
	}
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	src := gradient(16, 16)
	before := append([]byte(nil), src.Pix...)

	_, err := Apply(src, Filter{Kind: Invert})
	require.NoError(t, err)
	assert.Equal(t, before, src.Pix)
}

func TestApply_InvalidInput(t *testing.T) {
	_, err := Apply(nil, Filter{Kind: Grayscale})
	assert.ErrorIs(t, err, failure.ErrInvalidImage)

	_, err = Apply(image.NewNRGBA(image.Rect(0, 0, 0, 10)), Filter{Kind: Grayscale})
	assert.ErrorIs(t, err, failure.ErrInvalidImage)

	_, err = Apply(gradient(4, 4), Filter{Kind: "emboss"})
	assert.ErrorIs(t, err, failure.ErrInvalidImage)
}

func TestGrayscale_EqualChannels(t *testing.T) {
	out, err := Apply(gradient(20, 20), Filter{Kind: Grayscale})
	require.NoError(t, err)

	for i := 0; i < len(out.Pix); i += 4 {
		r, g, b := int(out.Pix[i]), int(out.Pix[i+1]), int(out.Pix[i+2])
		assert.InDelta(t, r, g, 1)
		assert.InDelta(t, g, b, 1)
	}
}

func TestSepia_White(t *testing.T) {
	out, err := Apply(solid(2, 2, color.NRGBA{255, 255, 255, 255}), Filter{Kind: Sepia})
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{249, 242, 226, 255}, out.NRGBAAt(0, 0))
}

func TestSepia_ScalesBeforeDesaturating(t *testing.T) {
	want := Concat(Scale(1, 0.95, 0.82, 1), Saturation(0.5))
	assert.Equal(t, want, SepiaMatrix())

	r, g, b, a := SepiaMatrix().Apply(255, 255, 255, 255)
	assert.Equal(t, [4]uint8{249, 242, 226, 255}, [4]uint8{r, g, b, a})

	// Scaling last would leave red untouched.
	r, _, _, _ = Concat(Saturation(0.5), Scale(1, 0.95, 0.82, 1)).Apply(255, 255, 255, 255)
	assert.Equal(t, uint8(255), r)
}

func TestInvert_KnownPixel(t *testing.T) {
	out, err := Apply(solid(1, 1, color.NRGBA{10, 200, 255, 77}), Filter{Kind: Invert})
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{245, 55, 0, 77}, out.NRGBAAt(0, 0))
}

func TestBrightness_ClampsAndDefaults(t *testing.T) {
	out, err := Apply(solid(1, 1, color.NRGBA{100, 220, 0, 255}), Filter{Kind: Brightness})
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{120, 255, 0, 255}, out.NRGBAAt(0, 0))
}

func TestContrast_KeepsMidGray(t *testing.T) {
	for _, f := range []float64{0.5, 1.5, 2} {
		out, err := Apply(solid(1, 1, color.NRGBA{128, 128, 128, 255}), ContrastFilter(f))
		require.NoError(t, err)
		px := out.NRGBAAt(0, 0)
		assert.InDelta(t, 128, int(px.R), 1, "factor %g", f)
	}

	out, err := Apply(solid(1, 1, color.NRGBA{200, 50, 128, 255}), ContrastFilter(1.5))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{236, 11, 128, 255}, out.NRGBAAt(0, 0))
}

func TestBlur_SmoothsEdges(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			v := uint8(0)
			if x >= 8 {
				v = 255
			}
			src.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}

	out, err := Apply(src, Filter{Kind: Blur})
	require.NoError(t, err)

	edge := out.NRGBAAt(8, 8).R
	assert.Greater(t, edge, uint8(0))
	assert.Less(t, edge, uint8(255))
}

func TestBlur_StaysCloseToSource(t *testing.T) {
	src := testutil.CreateQuadrantImage(40, 40)

	out, err := Apply(src, Filter{Kind: Blur})
	require.NoError(t, err)

	assert.False(t, testutil.CompareImages(src, out, 0), "blur must change the quadrant borders")
	assert.True(t, testutil.CompareImages(src, out, 0.25), "blur must keep the overall picture")
}

func TestBlur_TinyImage(t *testing.T) {
	out, err := Apply(solid(1, 3, color.NRGBA{9, 9, 9, 255}), Filter{Kind: Blur})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1, 3), out.Bounds().Size())
}

func TestSharpen_IsIdentity(t *testing.T) {
	src := gradient(9, 5)
	out, err := Apply(src, Filter{Kind: Sharpen})
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestApply_NonZeroOrigin(t *testing.T) {
	src := gradient(20, 20).SubImage(image.Rect(5, 5, 15, 12))
	out, err := Apply(src, Filter{Kind: Invert})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 7), out.Bounds())
}

func TestConcat(t *testing.T) {
	m := Concat(Scale(2, 2, 2, 1), InvertMatrix())
	r, g, b, a := m.Apply(10, 20, 30, 40)
	assert.Equal(t, [4]uint8{235, 215, 195, 40}, [4]uint8{r, g, b, a})

	assert.Equal(t, Saturation(0.3), Concat(Identity(), Saturation(0.3)))
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    Filter
		wantErr bool
	}{
		{in: "grayscale", want: Filter{Kind: Grayscale}},
		{in: " Sepia ", want: Filter{Kind: Sepia}},
		{in: "contrast:1.5", want: ContrastFilter(1.5)},
		{in: "brightness", want: Filter{Kind: Brightness}},
		{in: "brightness:abc", wantErr: true},
		{in: "brightness:-1", wantErr: true},
		{in: "invert:2", wantErr: true},
		{in: "emboss", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterString(t *testing.T) {
	assert.Equal(t, "brightness:1.2", Filter{Kind: Brightness}.String())
	assert.Equal(t, "contrast:2", ContrastFilter(2).String())
	assert.Equal(t, "blur", Filter{Kind: Blur}.String())
}
