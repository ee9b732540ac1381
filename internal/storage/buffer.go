package storage

import (
	"fmt"
	"sync"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

type node struct {
	reading survey.Reading
	next    *node
}

// ReadingBuffer is a thread-safe buffer that keeps readings in timestamp
// order until they are flushed to the database in batches. Readings that
// arrive late are placed after every reading with the same or an earlier
// timestamp.
type ReadingBuffer struct {
	capacity   int // Maximum number of readings to hold
	flushCount int // Number of readings to remove on Flush

	mu   sync.Mutex
	head *node
	tail *node
	size int
}

// NewReadingBuffer creates a buffer holding up to capacity readings, Flush
// removes flushCount of them.
func NewReadingBuffer(capacity, flushCount int) (*ReadingBuffer, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid buffer parameters: capacity=%d, flushCount=%d", capacity, flushCount)
	}
	return &ReadingBuffer{
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Insert adds a reading to the buffer in timestamp order
func (b *ReadingBuffer) Insert(r survey.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := &node{reading: r}
	b.size++

	switch {
	case b.head == nil:
		b.head, b.tail = n, n

	// readings almost always arrive in order
	case !r.Timestamp.Before(b.tail.reading.Timestamp):
		b.tail.next = n
		b.tail = n

	case r.Timestamp.Before(b.head.reading.Timestamp):
		n.next = b.head
		b.head = n

	default:
		current := b.head
		for !current.next.reading.Timestamp.After(r.Timestamp) {
			current = current.next
		}
		n.next = current.next
		current.next = n
	}
}

// IsFull returns true if the buffer has reached its capacity
func (b *ReadingBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.size >= b.capacity
}

// Flush removes and returns the oldest readings, nil if the buffer is empty.
// Readings above the capacity are flushed as well.
func (b *ReadingBuffer) Flush() []survey.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.flushCount
	if b.size > b.capacity {
		count += b.size - b.capacity
	}
	return b.take(count)
}

// DrainAll removes and returns all readings, nil if the buffer is empty
func (b *ReadingBuffer) DrainAll() []survey.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.take(b.size)
}

func (b *ReadingBuffer) take(count int) []survey.Reading {
	count = min(count, b.size)
	if count == 0 {
		return nil
	}

	results := make([]survey.Reading, 0, count)
	current := b.head
	for i := 0; i < count && current != nil; i++ {
		results = append(results, current.reading)
		current = current.next
	}

	b.head = current
	if b.head == nil {
		b.tail = nil
	}
	b.size -= len(results)
	return results
}

// Size returns the number of buffered readings
func (b *ReadingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Clear drops all buffered readings
func (b *ReadingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.tail = nil, nil
	b.size = 0
}
