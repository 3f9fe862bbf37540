package output_storage

import (
	"sync"
)

// DefaultLimit bounds the output kept per stream of a daemon.
const DefaultLimit = 64 * 1024

// OutputStorage keeps the most recent output of a stream, up to limit bytes.
// Older chunks are evicted whole once the limit is exceeded, so a chatty
// long-lived daemon cannot grow the harness without bound.
// It is safe for concurrent use.
type OutputStorage struct {
	mu      sync.Mutex
	chunks  [][]byte
	size    int
	limit   int
	dropped int
	closed  bool
}

// New creates an empty storage. A non-positive limit selects DefaultLimit.
func New(limit int) *OutputStorage {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &OutputStorage{limit: limit}
}

// Append stores data as-is; callers that reuse the slice must pass a copy.
// Appends after Close are dropped.
func (s *OutputStorage) Append(data []byte) {
	if s == nil || len(data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropped += len(data)
		return
	}

	s.chunks = append(s.chunks, data)
	s.size += len(data)

	// Always keep the newest chunk even if it alone exceeds the limit.
	for s.size > s.limit && len(s.chunks) > 1 {
		s.size -= len(s.chunks[0])
		s.dropped += len(s.chunks[0])
		s.chunks[0] = nil
		s.chunks = s.chunks[1:]
	}
}

// Write implements io.Writer. p is copied, since exec reuses its buffer.
func (s *OutputStorage) Write(p []byte) (int, error) {
	if s == nil {
		return len(p), nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.Append(append([]byte(nil), p...))

	return len(p), nil
}

// Close marks the stream finished.
func (s *OutputStorage) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *OutputStorage) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dropped returns the number of bytes evicted or rejected so far.
func (s *OutputStorage) Dropped() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// ForEach iterates over retained chunks in insertion order.
// If iter returns false, iteration stops early.
func (s *OutputStorage) ForEach(iter func([]byte) bool) {
	if s == nil || iter == nil {
		return
	}

	s.mu.Lock()
	snapshot := append([][]byte(nil), s.chunks...)
	s.mu.Unlock()

	for _, chunk := range snapshot {
		if !iter(chunk) {
			return
		}
	}
}

// Bytes concatenates all retained chunks.
func (s *OutputStorage) Bytes() []byte {
	total := 0
	slices := make([][]byte, 0, 16)
	s.ForEach(func(b []byte) bool {
		slices = append(slices, b)
		total += len(b)
		return true
	})
	out := make([]byte, 0, total)
	for _, b := range slices {
		out = append(out, b...)
	}
	return out
}

// String returns all retained chunks concatenated into a single string.
func (s *OutputStorage) String() string {
	return string(s.Bytes())
}
