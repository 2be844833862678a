package pipeline

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLane_RunsJobsInOrder(t *testing.T) {
	l := newLane("test", slog.Default())
	defer l.stop()

	var order []int
	var chans []<-chan result[int]
	for i := range 5 {
		chans = append(chans, call(l, func() (int, error) {
			order = append(order, i)
			return i * i, nil
		}))
	}
	for i, ch := range chans {
		r := <-ch
		require.NoError(t, r.err)
		assert.Equal(t, i*i, r.val)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLane_PropagatesErrors(t *testing.T) {
	l := newLane("test", slog.Default())
	defer l.stop()

	boom := errors.New("boom")
	r := <-call(l, func() (string, error) { return "", boom })
	assert.ErrorIs(t, r.err, boom)
}

func TestLane_RecoversPanics(t *testing.T) {
	l := newLane("test", slog.Default())
	defer l.stop()

	r := <-call(l, func() (*Processed, error) { panic("decoder blew up") })
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "decoder blew up")
	assert.Nil(t, r.val)

	// the lane keeps serving after a panic
	r2 := <-call(l, func() (int, error) { return 7, nil })
	require.NoError(t, r2.err)
	assert.Equal(t, 7, r2.val)
}

func TestLane_StopIsIdempotent(t *testing.T) {
	l := newLane("test", slog.Default())
	l.stop()
	l.stop()
}
