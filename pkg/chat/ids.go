package chat

import (
	"sync/atomic"
	"time"
)

// IDSource hands out strictly increasing message ids. Ids start near the
// current unix time in milliseconds so they stay readable next to timestamps.
type IDSource struct {
	last atomic.Int64
	now  func() time.Time
}

func NewIDSource() *IDSource {
	return &IDSource{now: time.Now}
}

// Next never returns the same value twice, even when called within the same
// millisecond.
func (s *IDSource) Next() int64 {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	for {
		prev := s.last.Load()
		next := now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if s.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
