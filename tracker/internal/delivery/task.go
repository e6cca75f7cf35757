package delivery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
)

// State is the position of a Task in its delivery lifecycle:
// Idle, Sending, then either Success or Retrying back to Sending, ending in
// Success or Dropped.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateRetrying
	StateSuccess
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateRetrying:
		return "retrying"
	case StateSuccess:
		return "success"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateDropped
}

// Task tracks one batch through delivery.
type Task struct {
	batch    event.Batch
	state    atomic.Int32
	attempts atomic.Int32
	done     chan struct{}

	mu  sync.Mutex
	ack *Ack
	err error
}

func newTask(batch event.Batch) *Task {
	return &Task{batch: batch, done: make(chan struct{})}
}

// BatchID returns the id of the batch being delivered.
func (t *Task) BatchID() string { return t.batch.Metadata.BatchID }

// Batch returns the batch being delivered.
func (t *Task) Batch() event.Batch { return t.batch }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

// Attempts returns the number of HTTP attempts made so far.
func (t *Task) Attempts() int { return int(t.attempts.Load()) }

// Result returns the outcome. Both values are nil until Done is closed.
func (t *Task) Result() (*Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ack, t.err
}

// Wait blocks until the task settles or ctx is done.
func (t *Task) Wait(ctx context.Context) (*Ack, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

func (t *Task) succeed(ack *Ack) {
	t.mu.Lock()
	t.ack = ack
	t.mu.Unlock()
	t.setState(StateSuccess)
	close(t.done)
}

func (t *Task) drop(err *DeliveryError) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.setState(StateDropped)
	close(t.done)
}
