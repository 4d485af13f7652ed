package reactor

import (
	"sync/atomic"
	"time"
)

// Stats tracks reactor activity
type Stats struct {
	submitted   atomic.Int64
	completed   atomic.Int64
	discarded   atomic.Int64
	maxWaitNano atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Submitted int64         `json:"submitted"`
	Completed int64         `json:"completed"`
	Discarded int64         `json:"discarded"`
	Queued    int           `json:"queued"`
	MaxWait   time.Duration `json:"max_wait_ns"`
}

func (s *Stats) observeWait(d time.Duration) {
	for {
		cur := s.maxWaitNano.Load()
		if int64(d) <= cur || s.maxWaitNano.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

func (s *Stats) snapshot(queued int) StatsSnapshot {
	return StatsSnapshot{
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Discarded: s.discarded.Load(),
		Queued:    queued,
		MaxWait:   time.Duration(s.maxWaitNano.Load()),
	}
}
