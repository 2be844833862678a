package pipeline

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// lane is a dedicated worker goroutine that executes jobs one at a time.
// The controller keeps one lane for local image work and one for network
// I/O so neither blocks the goroutine that owns state.
type lane struct {
	name   string
	jobs   chan func()
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func newLane(name string, logger *slog.Logger) *lane {
	l := &lane{
		name:   name,
		jobs:   make(chan func(), 1),
		logger: logger,
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

func (l *lane) loop() {
	defer l.wg.Done()
	for job := range l.jobs {
		job()
	}
}

// submit queues fn. It must not be called after stop.
func (l *lane) submit(fn func()) {
	l.jobs <- fn
}

// stop drains queued jobs and waits for the worker to exit.
func (l *lane) stop() {
	l.once.Do(func() { close(l.jobs) })
	l.wg.Wait()
}

// call runs fn on the lane and delivers its result on the returned channel.
// A panic inside fn becomes an error instead of taking the process down.
func call[T any](l *lane, fn func() (T, error)) <-chan result[T] {
	out := make(chan result[T], 1)
	l.submit(func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("worker panic", "lane", l.name, "panic", r, "stack", string(debug.Stack()))
				var zero T
				out <- result[T]{val: zero, err: fmt.Errorf("%s worker panic: %v", l.name, r)}
			}
		}()
		v, err := fn()
		out <- result[T]{val: v, err: err}
	})
	return out
}

type result[T any] struct {
	val T
	err error
}
