package tracker

import (
	"context"
	"sync"
	"time"
)

// pacer serializes requests per vendor and spaces them by delay, so a product
// pool never hits one vendor concurrently or back to back.
type pacer struct {
	delay time.Duration
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	slots map[string]*vendorSlot
}

type vendorSlot struct {
	mu   sync.Mutex
	last time.Time
}

func newPacer(delay time.Duration, now func() time.Time, sleep func(context.Context, time.Duration) error) *pacer {
	return &pacer{delay: delay, now: now, sleep: sleep, slots: make(map[string]*vendorSlot)}
}

func (p *pacer) slot(vendor string) *vendorSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[vendor]
	if !ok {
		s = &vendorSlot{}
		p.slots[vendor] = s
	}
	return s
}

// acquire blocks until vendor may be contacted. The caller must call release
// when its request is done; the next request waits delay from that moment.
func (p *pacer) acquire(ctx context.Context, vendor string) (release func(), err error) {
	s := p.slot(vendor)
	s.mu.Lock()
	if !s.last.IsZero() {
		if wait := s.last.Add(p.delay).Sub(p.now()); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
	}
	return func() {
		s.last = p.now()
		s.mu.Unlock()
	}, nil
}
