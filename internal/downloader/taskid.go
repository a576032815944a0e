package downloader

import (
	"sync"
	"time"
)

// idSource issues task ids from the wall clock in Unix milliseconds. Ids only
// ever grow, so two starts within the same millisecond still get distinct ids.
type idSource struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

func newIDSource() *idSource {
	return &idSource{now: time.Now}
}

func (s *idSource) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uint64(s.now().UnixMilli())
	if id <= s.last {
		id = s.last + 1
	}

	s.last = id

	return id
}
