// Package orientation decodes captured image bytes and rotates the pixels
// so that the content is axis-aligned, using either an explicit tag from
// the capture source or the EXIF orientation embedded in the image.
package orientation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const op = "decode"

// Tag is the rotation to apply to a decoded image. Rotations are clockwise,
// the convention camera metadata uses.
type Tag string

const (
	None      Tag = "none"
	Rotate90  Tag = "90"
	Rotate180 Tag = "180"
	Rotate270 Tag = "270"
	// Auto reads the rotation from the image's EXIF metadata.
	Auto Tag = "auto"
)

// ParseTag accepts the tag names plus the "0", "cw90"-style aliases used by
// capture sources.
func ParseTag(s string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "0", "normal":
		return None, nil
	case "90", "cw90", "rotate90":
		return Rotate90, nil
	case "180", "cw180", "rotate180":
		return Rotate180, nil
	case "270", "cw270", "rotate270":
		return Rotate270, nil
	case "auto", "exif":
		return Auto, nil
	default:
		return "", fmt.Errorf("unknown orientation %q", s)
	}
}

// TagFromEXIF maps the EXIF orientation values for pure rotations.
// Mirrored orientations (2, 4, 5, 7) are rejected.
func TagFromEXIF(v int) (Tag, error) {
	switch v {
	case 1:
		return None, nil
	case 6:
		return Rotate90, nil
	case 3:
		return Rotate180, nil
	case 8:
		return Rotate270, nil
	default:
		return "", fmt.Errorf("unsupported EXIF orientation %d", v)
	}
}

// Config controls decoding.
type Config struct {
	// SampleFactor downsamples on decode by an integer factor. 1 keeps the
	// native resolution.
	SampleFactor int
	// MaxPixels rejects images whose decoded size would exceed this many
	// pixels. 0 disables the check.
	MaxPixels int
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleFactor: 1,
		MaxPixels:    64 << 20,
	}
}

// Normalizer turns raw capture bytes into an upright NRGBA image.
type Normalizer struct {
	cfg Config
}

// NewNormalizer creates a normalizer. Invalid fields fall back to defaults.
func NewNormalizer(cfg Config) *Normalizer {
	if cfg.SampleFactor < 1 {
		cfg.SampleFactor = 1
	}
	if cfg.MaxPixels < 0 {
		cfg.MaxPixels = 0
	}
	return &Normalizer{cfg: cfg}
}

// Normalize decodes data and applies tag. source only annotates errors.
// Every failure is a *failure.Error of kind DecodeError or InvalidImage.
func (n *Normalizer) Normalize(data []byte, source string, tag Tag) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, failure.Newf(failure.KindDecode, op, "%s: empty input", sourceName(source))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindDecode, Op: op, Msg: sourceName(source), Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, failure.Newf(failure.KindInvalidImage, op, "%s: invalid dimensions %dx%d",
			sourceName(source), cfg.Width, cfg.Height)
	}
	if n.cfg.MaxPixels > 0 && cfg.Width*cfg.Height > n.cfg.MaxPixels {
		return nil, failure.Newf(failure.KindInvalidImage, op, "%s: %dx%d %s exceeds %d pixels",
			sourceName(source), cfg.Width, cfg.Height, format, n.cfg.MaxPixels)
	}

	var opts []imaging.DecodeOption
	switch tag {
	case Auto:
		opts = append(opts, imaging.AutoOrientation(true))
	case None, Rotate90, Rotate180, Rotate270, "":
	default:
		return nil, failure.Newf(failure.KindDecode, op, "%s: unknown orientation tag %q", sourceName(source), tag)
	}

	img, err := imaging.Decode(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, &failure.Error{Kind: failure.KindDecode, Op: op, Msg: sourceName(source), Err: err}
	}

	return Rotate(n.sample(img), tag), nil
}

func (n *Normalizer) sample(img image.Image) image.Image {
	f := n.cfg.SampleFactor
	if f <= 1 {
		return img
	}
	b := img.Bounds()
	return imaging.Resize(img, max(1, b.Dx()/f), max(1, b.Dy()/f), imaging.Box)
}

// Rotate turns img clockwise by tag and always returns a fresh NRGBA image.
// Auto and None return an upright copy.
func Rotate(img image.Image, tag Tag) *image.NRGBA {
	// imaging rotates counter-clockwise.
	switch tag {
	case Rotate90:
		return imaging.Rotate270(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case Rotate270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

func sourceName(s string) string {
	if s == "" {
		return "capture"
	}
	return s
}
