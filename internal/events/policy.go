package events

import (
	"sync"
	"time"
)

// FlushPolicy decides when the open segment should be sealed for upload.
// The engine calls Hit for every appended event and Reset after each seal.
type FlushPolicy interface {
	Hit(e Event)
	ShouldFlush() bool
	Reset()
}

// SizePolicy flushes once limit events have been appended.
type SizePolicy struct {
	mu    sync.Mutex
	limit int
	count int
}

func NewSizePolicy(limit int) *SizePolicy {
	if limit < 1 {
		limit = 1
	}
	return &SizePolicy{limit: limit}
}

func (p *SizePolicy) Hit(Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
}

func (p *SizePolicy) ShouldFlush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count >= p.limit
}

func (p *SizePolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = 0
}

// IntervalPolicy flushes when at least one event is pending and interval has
// passed since the last reset. It is evaluated on Hit and on Engine.Tick.
type IntervalPolicy struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	since    time.Time
	pending  int
}

func NewIntervalPolicy(interval time.Duration) *IntervalPolicy {
	return &IntervalPolicy{interval: interval, now: time.Now, since: time.Now()}
}

func (p *IntervalPolicy) Hit(Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending++
}

func (p *IntervalPolicy) ShouldFlush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending > 0 && p.now().Sub(p.since) >= p.interval
}

func (p *IntervalPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = 0
	p.since = p.now()
}
