package encoder

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		maxW, maxH int
		wantW      int
		wantH      int
	}{
		{"landscape over bound", 2000, 1000, 1024, 1024, 1024, 512},
		{"portrait over bound", 1000, 3000, 1024, 1024, 341, 1024},
		{"within bound untouched", 800, 600, 1024, 1024, 800, 600},
		{"exactly bound", 1024, 1024, 1024, 1024, 1024, 1024},
		{"thin strip keeps one pixel", 5000, 2, 1024, 1024, 1024, 1},
		{"asymmetric bound", 4000, 3000, 800, 1200, 800, 600},
		{"zero input", 0, 10, 1024, 1024, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := TargetSize(tt.w, tt.h, tt.maxW, tt.maxH)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestEncode_DownsamplesLargeImage(t *testing.T) {
	enc := New(DefaultOptions())
	p, err := enc.Encode(testutil.CreateQuadrantImage(2000, 1000))
	require.NoError(t, err)

	assert.Equal(t, 1024, p.Width)
	assert.Equal(t, 512, p.Height)
	assert.Equal(t, DefaultQuality, p.Quality)
	assert.Equal(t, len(p.Data), p.ByteLength())

	raw, err := base64.StdEncoding.DecodeString(p.Data)
	require.NoError(t, err)
	assert.Equal(t, p.JPEGBytes, len(raw))

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestEncode_NoLineWrapping(t *testing.T) {
	p, err := New(DefaultOptions()).Encode(testutil.CreateTextImage("hello", 300, 200))
	require.NoError(t, err)
	assert.NotContains(t, p.Data, "\n")
	assert.NotContains(t, p.Data, "\r")
	assert.True(t, strings.HasPrefix(p.DataURI(), "data:image/jpeg;base64,"))
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	enc := New(Options{MaxPayloadBytes: 64})
	p, err := enc.Encode(testutil.CreateQuadrantImage(200, 200))
	assert.Nil(t, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrPayloadTooLarge)
	assert.Zero(t, failure.StatusOf(err))
}

func TestEncode_InvalidInput(t *testing.T) {
	enc := New(DefaultOptions())

	_, err := enc.Encode(nil)
	assert.ErrorIs(t, err, failure.ErrInvalidImage)

	_, err = enc.Encode(image.NewNRGBA(image.Rect(0, 0, 10, 0)))
	assert.ErrorIs(t, err, failure.ErrInvalidImage)
}

func TestNew_AppliesDefaults(t *testing.T) {
	enc := New(Options{Quality: 500})
	assert.Equal(t, DefaultOptions(), enc.opts)

	enc = New(Options{MaxWidth: 640, MaxHeight: 480, Quality: 60, MaxPayloadBytes: 1 << 20})
	assert.Equal(t, Options{MaxWidth: 640, MaxHeight: 480, Quality: 60, MaxPayloadBytes: 1 << 20}, enc.opts)
}

func TestEncode_QualityAffectsSize(t *testing.T) {
	img := testutil.CreateTextImage("quality matters here", 400, 300)

	low, err := New(Options{Quality: 10}).Encode(img)
	require.NoError(t, err)
	high, err := New(Options{Quality: 95}).Encode(img)
	require.NoError(t, err)

	assert.Less(t, low.JPEGBytes, high.JPEGBytes)
}

func TestEncodeJPEG_KeepsDimensions(t *testing.T) {
	data, err := New(DefaultOptions()).EncodeJPEG(testutil.CreateTestImage(1500, 20, color.Black))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Width)
}
