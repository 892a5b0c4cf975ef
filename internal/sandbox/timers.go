package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// scriptTimer is one pending setTimeout callback.
type scriptTimer struct {
	id  int64
	due time.Time
	fn  goja.Callable
}

// timerQueue holds timers scheduled by the script. A run is single
// threaded, so no locking: timers are added from inside the VM and popped
// by the drive loop on the same goroutine.
type timerQueue struct {
	nextID int64
	timers []*scriptTimer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{}
}

// add schedules fn after delay against the host clock and returns its id.
func (q *timerQueue) add(fn goja.Callable, delay time.Duration) int64 {
	q.nextID++
	q.timers = append(q.timers, &scriptTimer{
		id:  q.nextID,
		due: time.Now().Add(delay),
		fn:  fn,
	})
	return q.nextID
}

// clear cancels the timer with the given id, if still pending.
func (q *timerQueue) clear(id int64) {
	for i, t := range q.timers {
		if t.id == id {
			q.timers = append(q.timers[:i], q.timers[i+1:]...)
			return
		}
	}
}

// pop removes and returns the timer with the earliest due time.
func (q *timerQueue) pop() (*scriptTimer, bool) {
	if len(q.timers) == 0 {
		return nil, false
	}
	earliest := 0
	for i, t := range q.timers {
		if t.due.Before(q.timers[earliest].due) {
			earliest = i
		}
	}
	t := q.timers[earliest]
	q.timers = append(q.timers[:earliest], q.timers[earliest+1:]...)
	return t, true
}
