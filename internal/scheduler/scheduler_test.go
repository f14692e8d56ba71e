package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BarHarvest/internal/domain/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestWorkSchedulerDrainFIFO(t *testing.T) {
	s := NewWorkScheduler(newClock().Now)
	a, b, c := models.NewPair("A", "1D"), models.NewPair("B", "1D"), models.NewPair("C", "1D")
	s.MarkReady(a)
	s.MarkReady(b)
	s.MarkReady(c)
	s.MarkReady(a)

	assert.Equal(t, 3, s.ReadySize())
	assert.Equal(t, []models.Pair{a, b}, s.Drain(2))
	assert.Equal(t, []models.Pair{c}, s.Drain(10))
	assert.Empty(t, s.Drain(10))
}

func TestWorkSchedulerWaitingWindow(t *testing.T) {
	clock := newClock()
	s := NewWorkScheduler(clock.Now)
	p := models.NewPair("BTCUSD", "1")

	s.MarkWaiting(p, time.Hour)
	assert.Equal(t, 1, s.WaitingSize())
	assert.Empty(t, s.Drain(0))

	clock.Advance(time.Hour - time.Nanosecond)
	assert.Equal(t, 0, s.ReadySize())

	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, s.ReadySize())
	assert.Equal(t, 0, s.WaitingSize())
	assert.Equal(t, []models.Pair{p}, s.Drain(0))
}

func TestWorkSchedulerPromotesInDueOrder(t *testing.T) {
	clock := newClock()
	s := NewWorkScheduler(clock.Now)
	late, early, tie := models.NewPair("L", "1"), models.NewPair("E", "1"), models.NewPair("T", "1")

	s.MarkWaiting(late, 3*time.Minute)
	s.MarkWaiting(early, time.Minute)
	s.MarkWaiting(tie, time.Minute)

	clock.Advance(5 * time.Minute)
	assert.Equal(t, []models.Pair{early, tie, late}, s.Drain(0))
}

func TestWorkSchedulerRewaitSupersedes(t *testing.T) {
	clock := newClock()
	s := NewWorkScheduler(clock.Now)
	p := models.NewPair("X", "1")

	s.MarkWaiting(p, time.Minute)
	s.MarkWaiting(p, time.Hour)
	clock.Advance(2 * time.Minute)
	assert.Empty(t, s.Drain(0))
	assert.Equal(t, 1, s.WaitingSize())
}

func TestWorkSchedulerErrorIsPermanent(t *testing.T) {
	clock := newClock()
	s := NewWorkScheduler(clock.Now)
	p := models.NewPair("BAD", "1D")

	s.MarkWaiting(p, time.Minute)
	s.MarkError(p)
	s.MarkReady(p)
	s.MarkWaiting(p, time.Second)
	s.RequeueReady([]models.Pair{p})
	clock.Advance(time.Hour)

	assert.Empty(t, s.Drain(0))
	assert.Equal(t, 0, s.WaitingSize())
	assert.Equal(t, 1, s.ErrorSize())
	assert.Equal(t, []models.Pair{p}, s.Errors())

	require.True(t, s.Revive(p))
	assert.False(t, s.Revive(p))
	assert.Equal(t, 0, s.ErrorSize())
	assert.Equal(t, []models.Pair{p}, s.Drain(0))
}

func TestWorkSchedulerRequeueAfterDrain(t *testing.T) {
	s := NewWorkScheduler(newClock().Now)
	a, b := models.NewPair("A", "1"), models.NewPair("B", "1")
	s.MarkReady(a)
	s.MarkReady(b)
	got := s.Drain(0)
	require.Len(t, got, 2)
	assert.Equal(t, 0, s.ReadySize())

	s.RequeueReady([]models.Pair{b})
	assert.Equal(t, []models.Pair{b}, s.Drain(0))
}

func TestTaskSchedulerLIFOAndRecurrence(t *testing.T) {
	clock := newClock()
	s := NewTaskScheduler(clock.Now)

	require.NoError(t, s.Push(Task{Name: "load", Every: time.Minute}, true))
	require.NoError(t, s.Push(Task{Name: "bars", Every: time.Minute}, true))

	task, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "bars", task.Name)
	task, ok = s.Pop()
	require.True(t, ok)
	assert.Equal(t, "load", task.Name)

	_, ok = s.Pop()
	assert.False(t, ok)

	clock.Advance(time.Minute)
	ready, waiting := s.Pending()
	assert.Equal(t, 2, ready)
	assert.Equal(t, 0, waiting)
}

func TestTaskSchedulerReadyPushSupersedesWaiting(t *testing.T) {
	clock := newClock()
	s := NewTaskScheduler(clock.Now)
	bars := Task{Name: "bars", Every: time.Minute}

	require.NoError(t, s.Push(bars, false))
	require.NoError(t, s.Push(bars, true))
	require.NoError(t, s.Push(bars, true))

	_, ok := s.Pop()
	require.True(t, ok)
	_, ok = s.Pop()
	assert.False(t, ok)

	clock.Advance(time.Minute)
	_, ok = s.Pop()
	require.True(t, ok)
	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestTaskSchedulerOneShot(t *testing.T) {
	s := NewTaskScheduler(newClock().Now)
	err := s.Push(Task{Name: "once"}, false)
	assert.True(t, errors.Is(err, ErrNoRecurrence))

	require.NoError(t, s.Push(Task{Name: "once"}, true))
	_, ok := s.Pop()
	require.True(t, ok)
	ready, waiting := s.Pending()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, waiting)
}

func TestTaskSchedulerCron(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	s := NewTaskScheduler(clock.Now)
	sched, err := ParseCron("0 0 * * *")
	require.NoError(t, err)

	require.NoError(t, s.Push(Task{Name: "rotate", Cron: sched}, false))
	clock.Advance(13*time.Hour + 59*time.Minute)
	_, ok := s.Pop()
	assert.False(t, ok)

	clock.Advance(time.Minute)
	task, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "rotate", task.Name)

	_, err = ParseCron("not a cron")
	assert.Error(t, err)
}
