// Package encoder turns a processed image into the text payload sent to the
// recognition service: bounded resample, JPEG, then base64.
package encoder

import (
	"encoding/base64"
	"image"
	"math"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/mempool"
	"github.com/disintegration/imaging"
)

const op = "encode"

// Defaults match what the recognition service was tuned for.
const (
	DefaultMaxDimension    = 1024
	DefaultQuality         = 80
	DefaultMaxPayloadBytes = 10 << 20
)

// Options controls encoding.
type Options struct {
	MaxWidth        int `json:"max_width"`
	MaxHeight       int `json:"max_height"`
	Quality         int `json:"quality"`
	MaxPayloadBytes int `json:"max_payload_bytes"`
}

// DefaultOptions returns the default bound, quality and ceiling.
func DefaultOptions() Options {
	return Options{
		MaxWidth:        DefaultMaxDimension,
		MaxHeight:       DefaultMaxDimension,
		Quality:         DefaultQuality,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = d.MaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = d.Quality
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = d.MaxPayloadBytes
	}
	return o
}

// Payload is the transport form of an image.
type Payload struct {
	// Data is standard base64 without line breaks.
	Data string
	// Width and Height are the encoded (possibly downsampled) dimensions.
	Width  int
	Height int
	// JPEGBytes is the size of the serialized image before text encoding.
	JPEGBytes int
	Quality   int
}

// ByteLength is the length of the text-encoded payload.
func (p *Payload) ByteLength() int { return len(p.Data) }

// DataURI renders the payload as a data URI for chat-style envelopes.
func (p *Payload) DataURI() string { return "data:image/jpeg;base64," + p.Data }

// Encoder produces payloads with fixed options. It is safe for concurrent use.
type Encoder struct {
	opts Options
}

// New creates an encoder. Zero or out-of-range options take their defaults.
func New(opts Options) *Encoder {
	return &Encoder{opts: opts.withDefaults()}
}

// TargetSize computes the bounded size for a w x h image. The scale is
// min(maxW/w, maxH/h) clamped to at most 1, so images are never upscaled.
func TargetSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		return w, h
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return max(1, nw), max(1, nh)
}

// Encode downsamples img into the bound, serializes it as JPEG and base64
// encodes it. A payload over MaxPayloadBytes fails with PayloadTooLarge.
func (e *Encoder) Encode(img image.Image) (*Payload, error) {
	if img == nil {
		return nil, failure.Newf(failure.KindInvalidImage, op, "input image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, failure.Newf(failure.KindInvalidImage, op, "invalid dimensions %dx%d", b.Dx(), b.Dy())
	}

	w, h := TargetSize(b.Dx(), b.Dy(), e.opts.MaxWidth, e.opts.MaxHeight)
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Linear)
	}

	buf := mempool.GetBuffer(w * h / 4)
	defer mempool.PutBuffer(buf)

	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(e.opts.Quality)); err != nil {
		return nil, failure.New(failure.KindInvalidImage, op, err)
	}

	jpegLen := buf.Len()
	textLen := base64.StdEncoding.EncodedLen(jpegLen)
	if textLen > e.opts.MaxPayloadBytes {
		return nil, failure.Newf(failure.KindPayloadTooLarge, op,
			"encoded payload is %d bytes, limit %d", textLen, e.opts.MaxPayloadBytes)
	}

	return &Payload{
		Data:      base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:     w,
		Height:    h,
		JPEGBytes: jpegLen,
		Quality:   e.opts.Quality,
	}, nil
}

// EncodeJPEG serializes img as JPEG at the encoder's quality without
// resizing. Used for local previews.
func (e *Encoder) EncodeJPEG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, failure.Newf(failure.KindInvalidImage, op, "input image is nil")
	}
	buf := mempool.GetBuffer(0)
	defer mempool.PutBuffer(buf)

	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(e.opts.Quality)); err != nil {
		return nil, failure.New(failure.KindInvalidImage, op, err)
	}
	return append([]byte(nil), buf.Bytes()...), nil
}
