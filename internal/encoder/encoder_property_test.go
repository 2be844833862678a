package encoder

import (
	"image"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTargetSize_NeverUpscales(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("output fits input and bound", prop.ForAll(
		func(w, h, bound int) bool {
			nw, nh := TargetSize(w, h, bound, bound)
			if nw > w || nh > h {
				return false
			}
			if nw < 1 || nh < 1 {
				return false
			}
			return nw <= bound && nh <= bound
		},
		gen.IntRange(1, 8000),
		gen.IntRange(1, 8000),
		gen.IntRange(1, 2048),
	))

	properties.Property("oversize input touches the bound", prop.ForAll(
		func(w, h, bound int) bool {
			nw, nh := TargetSize(w, h, bound, bound)
			if w <= bound && h <= bound {
				return nw == w && nh == h
			}
			return nw == bound || nh == bound
		},
		gen.IntRange(1, 8000),
		gen.IntRange(1, 8000),
		gen.IntRange(1, 2048),
	))

	properties.TestingRun(t)
}

func TestEncode_Deterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)
	enc := New(Options{MaxWidth: 64, MaxHeight: 64})

	properties.Property("same image encodes to the same payload", prop.ForAll(
		func(w, h int) bool {
			img := image.NewNRGBA(image.Rect(0, 0, w, h))
			for i := range img.Pix {
				img.Pix[i] = uint8(i * 31)
			}
			a, errA := enc.Encode(img)
			b, errB := enc.Encode(img)
			if errA != nil || errB != nil {
				return false
			}
			return a.Data == b.Data && a.Width <= 64 && a.Height <= 64
		},
		gen.IntRange(1, 200),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}
