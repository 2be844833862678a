package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Corner colors of CreateQuadrantImage. They are far apart so that JPEG
// artifacts never confuse one for another.
var (
	TopLeft     = color.NRGBA{255, 0, 0, 255}
	TopRight    = color.NRGBA{0, 255, 0, 255}
	BottomLeft  = color.NRGBA{0, 0, 255, 255}
	BottomRight = color.NRGBA{255, 255, 255, 255}
)

// CreateTestImage creates a solid image with the specified dimensions and color.
func CreateTestImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// CreateQuadrantImage paints each quadrant in a distinct color, which makes
// rotations observable.
func CreateQuadrantImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			left, top := x < width/2, y < height/2
			switch {
			case left && top:
				img.SetNRGBA(x, y, TopLeft)
			case top:
				img.SetNRGBA(x, y, TopRight)
			case left:
				img.SetNRGBA(x, y, BottomLeft)
			default:
				img.SetNRGBA(x, y, BottomRight)
			}
		}
	}
	return img
}

// CreateTextImage renders a caption on a white background.
func CreateTextImage(text string, width, height int) *image.NRGBA {
	img := CreateTestImage(width, height, color.White)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, height/2),
	}
	d.DrawString(text)
	return img
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}), "Failed to encode JPEG")
	return buf.Bytes()
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG")
	return buf.Bytes()
}

// WithEXIFOrientation inserts a minimal APP1 EXIF segment carrying the given
// orientation value right after the JPEG SOI marker.
func WithEXIFOrientation(t *testing.T, jpegData []byte, orientation uint16) []byte {
	t.Helper()
	require.GreaterOrEqual(t, len(jpegData), 2)
	require.Equal(t, []byte{0xFF, 0xD8}, jpegData[:2], "not a JPEG stream")

	var tiff bytes.Buffer
	tiff.WriteString("MM\x00\x2A")
	_ = binary.Write(&tiff, binary.BigEndian, uint32(8)) // IFD0 offset
	_ = binary.Write(&tiff, binary.BigEndian, uint16(1)) // entry count
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0x0112))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(3)) // SHORT
	_ = binary.Write(&tiff, binary.BigEndian, uint32(1))
	_ = binary.Write(&tiff, binary.BigEndian, orientation)
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0))
	_ = binary.Write(&tiff, binary.BigEndian, uint32(0)) // next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)

	var out bytes.Buffer
	out.Write(jpegData[:2])
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpegData[2:])
	return out.Bytes()
}

// ColorNear reports whether two colors differ by at most tol per channel.
func ColorNear(a, b color.Color, tol uint8) bool {
	ca := color.NRGBAModel.Convert(a).(color.NRGBA)
	cb := color.NRGBAModel.Convert(b).(color.NRGBA)
	near := func(x, y uint8) bool {
		return math.Abs(float64(x)-float64(y)) <= float64(tol)
	}
	return near(ca.R, cb.R) && near(ca.G, cb.G) && near(ca.B, cb.B) && near(ca.A, cb.A)
}

// CompareImages reports whether two images have equal bounds and an average
// normalized difference within tolerance.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	b1, b2 := img1.Bounds(), img2.Bounds()
	if b1.Size() != b2.Size() {
		return false
	}

	var totalDiff, pixelCount float64
	for y := range b1.Dy() {
		for x := range b1.Dx() {
			r1, g1, bl1, a1 := img1.At(b1.Min.X+x, b1.Min.Y+y).RGBA()
			r2, g2, bl2, a2 := img2.At(b2.Min.X+x, b2.Min.Y+y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(bl1) - float64(bl2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}

	maxDiff := math.Sqrt(4 * 65535 * 65535)
	return (totalDiff/pixelCount)/maxDiff <= tolerance
}
