// ABOUTME: Background task handle with an explicit completion signal
// ABOUTME: Render calls run as tasks so the finalize step can wait on them with a bound

package streaming

import (
	"errors"
	"time"
)

var errWaitTimeout = errors.New("timed out waiting for task")

type task[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func goTask[T any](fn func() (T, error)) *task[T] {
	t := &task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.val, t.err = fn()
	}()
	return t
}

func (t *task[T]) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// result must only be called once finished reports true.
func (t *task[T]) result() (T, error) {
	return t.val, t.err
}

func (t *task[T]) wait(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.val, t.err
	case <-timer.C:
		var zero T
		return zero, errWaitTimeout
	}
}
