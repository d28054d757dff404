package chat

import (
	"context"
)

// Outcome describes how a stream ended.
type Outcome int

const (
	// OutcomePending means the stream has not ended yet.
	OutcomePending Outcome = iota
	// OutcomeCompleted means the server sent its end marker or a finish event.
	OutcomeCompleted
	// OutcomeTruncated means the connection closed without an end marker. The transcript is treated
	// as complete.
	OutcomeTruncated
	// OutcomeCancelled means the stream was stopped by the caller.
	OutcomeCancelled
	// OutcomeFailed means a transport or server error ended the stream.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeTruncated:
		return "truncated"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stream is the handle of one Send call. It carries the cancellation signal of that exchange only:
// cancelling a finished stream, or cancelling twice, does nothing.
type Stream struct {
	ctrl *Controller

	ctx         context.Context
	cancel      context.CancelFunc
	assistantID string
	done        chan struct{}

	// Guarded by ctrl.mu.
	outcome Outcome
	err     error
}

// AssistantID returns the id of the placeholder message this stream writes into.
func (s *Stream) AssistantID() string {
	return s.assistantID
}

// Cancel stops the stream if it is still the controller's active one.
func (s *Stream) Cancel() {
	c := s.ctrl
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	c.cancelLocked(s)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Done is closed once the stream's goroutine has released the response body.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream is done or ctx ends, and returns the outcome.
func (s *Stream) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.Outcome(), s.Err()
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// Outcome reports how the stream ended, or OutcomePending.
func (s *Stream) Outcome() Outcome {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	return s.outcome
}

// Err returns the error that ended the stream, if any. Cancellation is not an error.
func (s *Stream) Err() error {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	return s.err
}
