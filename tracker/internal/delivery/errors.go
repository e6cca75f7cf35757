package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected means the collector answered but did not accept the batch.
	ErrRejected = errors.New("collector rejected batch")
	// ErrOptedOut means the privacy gate closed before or during delivery.
	ErrOptedOut = errors.New("delivery suppressed by opt-out")
)

// Ack is the successful outcome of a delivery.
type Ack struct {
	BatchID  string
	Status   int
	Accepted int
	Attempts int
	Message  string
}

// DeliveryError is the terminal failure of a delivery. Err is the error of
// the last attempt.
type DeliveryError struct {
	BatchID  string
	Attempts int
	Status   int
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("batch %s dropped after %d attempt(s), last status %d: %v", e.BatchID, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("batch %s dropped after %d attempt(s): %v", e.BatchID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// statusError carries the HTTP status of a failed attempt.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }
