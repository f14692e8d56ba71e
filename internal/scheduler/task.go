package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrNoRecurrence = errors.New("scheduler: waiting task needs a recurrence")

// Task is a named maintenance job. Every and Cron are alternative recurrences; Cron wins
// when both are set. A task with neither runs once.
type Task struct {
	Name  string
	Every time.Duration
	Cron  cron.Schedule
}

// ParseCron parses a standard five field cron expression or descriptor such as "@daily".
func ParseCron(expr string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return s, nil
}

func (t Task) Recurring() bool {
	return t.Cron != nil || t.Every > 0
}

func (t Task) next(from time.Time) time.Time {
	if t.Cron != nil {
		return t.Cron.Next(from)
	}
	return from.Add(t.Every)
}

// TaskScheduler holds maintenance tasks in a due-time heap. Ready tasks pop last in,
// first out. Only the latest schedule of a task name is live.
type TaskScheduler struct {
	mu      sync.Mutex
	now     func() time.Time
	ready   []Task
	waiting dueQueue[Task]
	gens    map[string]uint64
}

func NewTaskScheduler(clock func() time.Time) *TaskScheduler {
	if clock == nil {
		clock = time.Now
	}
	return &TaskScheduler{now: clock, gens: make(map[string]uint64)}
}

// Push schedules t. A ready task runs on the next Pop; otherwise it waits for its next
// recurrence.
func (s *TaskScheduler) Push(t Task, ready bool) error {
	if !ready && !t.Recurring() {
		return fmt.Errorf("%w: %s", ErrNoRecurrence, t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ready {
		s.pushReadyLocked(t)
		return nil
	}
	s.gens[t.Name]++
	s.waiting.push(t.next(s.now()), s.gens[t.Name], t)
	return nil
}

func (s *TaskScheduler) pushReadyLocked(t Task) {
	for _, r := range s.ready {
		if r.Name == t.Name {
			return
		}
	}
	s.ready = append(s.ready, t)
}

func (s *TaskScheduler) promote(now time.Time) {
	for {
		e, ok := s.waiting.popDue(now)
		if !ok {
			return
		}
		if s.gens[e.value.Name] != e.gen {
			continue
		}
		s.pushReadyLocked(e.value)
	}
}

// Pop returns the next runnable task. A recurring task is rescheduled before it is
// returned, so a failing run never loses its recurrence.
func (s *TaskScheduler) Pop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.promote(now)
	if len(s.ready) == 0 {
		return Task{}, false
	}
	t := s.ready[len(s.ready)-1]
	s.ready = s.ready[:len(s.ready)-1]

	if t.Recurring() {
		s.gens[t.Name]++
		s.waiting.push(t.next(now), s.gens[t.Name], t)
	} else {
		delete(s.gens, t.Name)
	}
	return t, true
}

// Pending returns the number of ready tasks and live waiting schedules.
func (s *TaskScheduler) Pending() (ready, waiting int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promote(s.now())
	live := 0
	for _, e := range s.waiting.h {
		if s.gens[e.value.Name] == e.gen {
			live++
		}
	}
	return len(s.ready), live
}
