package scheduler

import (
	"sync"
	"time"

	"BarHarvest/internal/domain/models"
)

type workState int

const (
	stateNone workState = iota
	stateReady
	stateWaiting
	stateInFlight
	stateError
)

type workItem struct {
	state workState
	gen   uint64
	due   time.Time
}

// WorkScheduler tracks ready, waiting and errored pairs.
//
// Ready pairs drain in insertion order. Waiting pairs sit in a min-heap keyed by due time and
// are promoted lazily by every drain or size query. Errored pairs stay out of both queues until
// Revive is called.
type WorkScheduler struct {
	mu      sync.Mutex
	now     func() time.Time
	items   map[models.Pair]*workItem
	ready   []models.Pair
	waiting dueQueue[models.Pair]
	errored []models.Pair
}

// NewWorkScheduler creates a scheduler using clock for due times; nil means time.Now.
func NewWorkScheduler(clock func() time.Time) *WorkScheduler {
	if clock == nil {
		clock = time.Now
	}
	return &WorkScheduler{
		now:   clock,
		items: make(map[models.Pair]*workItem),
	}
}

func (s *WorkScheduler) item(p models.Pair) *workItem {
	it, ok := s.items[p]
	if !ok {
		it = &workItem{}
		s.items[p] = it
	}
	return it
}

// MarkReady queues p for the next drain. It is a no-op for errored or already ready pairs.
func (s *WorkScheduler) MarkReady(p models.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadyLocked(p)
}

func (s *WorkScheduler) markReadyLocked(p models.Pair) {
	it := s.item(p)
	switch it.state {
	case stateError, stateReady:
		return
	}
	it.gen++
	it.state = stateReady
	s.ready = append(s.ready, p)
}

// MarkWaiting parks p until now+cooldown. A pair waiting already is rescheduled.
func (s *WorkScheduler) MarkWaiting(p models.Pair, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.item(p)
	if it.state == stateError {
		return
	}
	it.gen++
	it.state = stateWaiting
	it.due = s.now().Add(cooldown)
	s.waiting.push(it.due, it.gen, p)
}

// MarkError excludes p from scheduling.
func (s *WorkScheduler) MarkError(p models.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.item(p)
	if it.state == stateError {
		return
	}
	it.gen++
	it.state = stateError
	s.errored = append(s.errored, p)
}

// Revive moves an errored pair back to ready. It reports whether p was errored.
func (s *WorkScheduler) Revive(p models.Pair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[p]
	if !ok || it.state != stateError {
		return false
	}
	for i, e := range s.errored {
		if e == p {
			s.errored = append(s.errored[:i], s.errored[i+1:]...)
			break
		}
	}
	it.state = stateNone
	s.markReadyLocked(p)
	return true
}

// promote moves every due waiting pair to the ready list in due order.
func (s *WorkScheduler) promote() {
	now := s.now()
	for {
		e, ok := s.waiting.popDue(now)
		if !ok {
			return
		}
		it := s.items[e.value]
		if it == nil || it.gen != e.gen || it.state != stateWaiting {
			continue
		}
		it.state = stateReady
		it.gen++
		s.ready = append(s.ready, e.value)
	}
}

// Drain removes up to limit ready pairs. limit <= 0 drains everything.
func (s *WorkScheduler) Drain(limit int) []models.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promote()
	out := make([]models.Pair, 0, min(max(limit, 0), len(s.ready)))
	n := 0
	for _, p := range s.ready {
		if limit > 0 && len(out) >= limit {
			break
		}
		n++
		it := s.items[p]
		if it.state != stateReady {
			continue
		}
		it.state = stateInFlight
		it.gen++
		out = append(out, p)
	}
	s.ready = append(s.ready[:0:0], s.ready[n:]...)
	return out
}

// RequeueReady puts pairs a run did not resolve back on the ready list.
func (s *WorkScheduler) RequeueReady(pairs []models.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.markReadyLocked(p)
	}
}

// Known reports whether p has ever been scheduled.
func (s *WorkScheduler) Known(p models.Pair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[p]
	return ok
}

func (s *WorkScheduler) ReadySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promote()
	n := 0
	for _, it := range s.items {
		if it.state == stateReady {
			n++
		}
	}
	return n
}

func (s *WorkScheduler) WaitingSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promote()
	n := 0
	for _, it := range s.items {
		if it.state == stateWaiting {
			n++
		}
	}
	return n
}

func (s *WorkScheduler) ErrorSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errored)
}

// Errors returns a copy of the errored pairs in the order they failed.
func (s *WorkScheduler) Errors() []models.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Pair, len(s.errored))
	copy(out, s.errored)
	return out
}

// NextDue returns the earliest waiting due time.
func (s *WorkScheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		e, ok := s.waiting.peek()
		if !ok {
			return time.Time{}, false
		}
		it := s.items[e.value]
		if it != nil && it.gen == e.gen && it.state == stateWaiting {
			return e.due, true
		}
		s.waiting.popDue(e.due)
	}
}
