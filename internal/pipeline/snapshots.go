package pipeline

import "sync"

// broadcaster hands snapshots to observers without ever blocking the
// publisher. The mailbox keeps only the newest snapshot; subscribers get a
// short queue from which the oldest entry is dropped when full.
type broadcaster struct {
	mu      sync.Mutex
	mailbox chan Snapshot
	subs    map[int]chan Snapshot
	nextID  int
	bufSize int
	closed  bool
}

func newBroadcaster(bufSize int) *broadcaster {
	if bufSize < 1 {
		bufSize = 1
	}
	return &broadcaster{
		mailbox: make(chan Snapshot, 1),
		subs:    make(map[int]chan Snapshot),
		bufSize: bufSize,
	}
}

// offer replaces the oldest queued snapshot when ch is full. Only the
// publisher sends on ch, so the second send cannot block.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (b *broadcaster) publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	offer(b.mailbox, s)
	for _, ch := range b.subs {
		offer(ch, s)
	}
}

func (b *broadcaster) subscribe() (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Snapshot, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (b *broadcaster) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
