package socket

import (
	"sync"

	"github.com/eapache/queue"
)

// DefaultPoolCapacity is the default maximum number of Message objects a
// Pool retains on free.
const DefaultPoolCapacity = 100

// Pool is a bounded free list of *Message objects. Allocate returns an
// already-reset object, taking the oldest freed entry if one is
// available (the free list is a FIFO queue, so the most recently freed
// entry is not the first reused), or constructing a fresh one
// otherwise. Free clears an
// object and returns it to the list unless the list is already at
// capacity, in which case the object is dropped.
//
// Pool is safe for concurrent use; allocate/free ordering across
// goroutines is not guaranteed beyond mutual exclusion of the free list.
type Pool struct {
	mu       sync.Mutex
	free     *queue.Queue
	capacity int
}

// NewPool constructs a Pool with the given maximum retained count. A
// non-positive capacity falls back to DefaultPoolCapacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &Pool{
		free:     queue.New(),
		capacity: capacity,
	}
}

// Allocate returns a reset *Message, reusing a freed one if the pool is
// nonempty.
func (p *Pool) Allocate() *Message {
	p.mu.Lock()
	if p.free.Length() > 0 {
		m := p.free.Remove().(*Message)
		p.mu.Unlock()
		return m
	}
	p.mu.Unlock()

	return NewMessage()
}

// Free resets m and returns it to the pool, unless the pool already
// holds capacity entries, in which case m is dropped.
func (p *Pool) Free(m *Message) {
	m.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free.Length() >= p.capacity {
		return
	}
	p.free.Add(m)
}

// Len reports the number of objects currently retained by the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Length()
}
