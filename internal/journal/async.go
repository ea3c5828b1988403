package journal

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the queue length used when NewAsync is given none.
const DefaultBuffer = 1024

// Async decouples producers from a slow sink. Record never blocks: when the
// queue is full the entry is dropped and counted.
type Async struct {
	sink    Hook
	queue   chan Entry
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	// mu orders Record's closed check and send against Close, so every
	// entry is either flushed or counted as dropped.
	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the goroutine that drains into sink.
func NewAsync(sink Hook, buffer int) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &Async{
		sink:  sink,
		queue: make(chan Entry, buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go a.drain()
	return a
}

// Record queues e for the sink.
func (a *Async) Record(e Entry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close flushes what is already queued and stops the drain goroutine.
func (a *Async) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.quit)
	})
	<-a.done
	return nil
}

func (a *Async) drain() {
	defer close(a.done)
	for {
		select {
		case e := <-a.queue:
			a.sink.Emit(e)
		case <-a.quit:
			for {
				select {
				case e := <-a.queue:
					a.sink.Emit(e)
				default:
					return
				}
			}
		}
	}
}
