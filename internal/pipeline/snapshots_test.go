package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_MailboxKeepsNewest(t *testing.T) {
	b := newBroadcaster(4)
	for i := uint64(1); i <= 5; i++ {
		b.publish(Snapshot{Seq: i})
	}

	got := <-b.mailbox
	assert.Equal(t, uint64(5), got.Seq)
	select {
	case s := <-b.mailbox:
		t.Fatalf("mailbox should be empty, got seq %d", s.Seq)
	default:
	}
}

func TestBroadcaster_SlowSubscriberDropsOldest(t *testing.T) {
	b := newBroadcaster(3)
	ch, cancel := b.subscribe()
	defer cancel()

	for i := uint64(1); i <= 6; i++ {
		b.publish(Snapshot{Seq: i})
	}

	var seqs []uint64
	for range 3 {
		seqs = append(seqs, (<-ch).Seq)
	}
	assert.Equal(t, []uint64{4, 5, 6}, seqs)
}

func TestBroadcaster_CancelAndClose(t *testing.T) {
	b := newBroadcaster(2)
	ch1, cancel1 := b.subscribe()
	ch2, _ := b.subscribe()
	assert.Equal(t, 2, b.subscribers())

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)
	assert.Equal(t, 1, b.subscribers())

	b.close()
	_, ok = <-ch2
	assert.False(t, ok)
	assert.Zero(t, b.subscribers())

	b.publish(Snapshot{Seq: 9})

	late, cancel := b.subscribe()
	defer cancel()
	_, ok = <-late
	require.False(t, ok, "subscribing after close yields a closed channel")
}
