// Package chat owns a conversation transcript and projects a streamed chat completion into it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/stream"
	"github.com/google/uuid"
)

// Transport issues one chat request and returns the response body as an SSE byte stream. The body
// must stop blocking once ctx is done. A response that does not indicate success must be reported as
// an error, not returned as a body.
type Transport interface {
	Open(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error)
}

// State is the phase of the controller's send-and-stream cycle.
type State int

const (
	// StateIdle means no stream is active.
	StateIdle State = iota
	// StateSending means the request is issued and the response has not started yet.
	StateSending
	// StateStreaming means the response body is being consumed.
	StateStreaming
	// StateFinishing means a terminal event was processed and cleanup is pending.
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinishing:
		return "finishing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const errLoggerKey = "err"

var (
	// ErrBusy is returned by Send while another stream is active.
	ErrBusy = errors.New("a response is already being generated")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// ServerError is an error reported by the server inside the stream.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Snapshot is a point-in-time copy of the observable state. It shares nothing with the controller.
type Snapshot struct {
	Messages []models.Message
	Active   bool
	Err      string
	State    State

	// Version increases with every change to the controller's state.
	Version uint64
}

// Controller owns one conversation and runs at most one stream against it at a time.
//
// Send appends the user message and an empty assistant placeholder synchronously, then streams the
// response into the placeholder on a separate goroutine. Every event is applied in the order its bytes
// arrived. All methods are safe for concurrent use.
type Controller struct {
	transport Transport
	logger    *slog.Logger

	thinking *bool
	onUpdate func(Snapshot)

	mu       sync.Mutex
	messages []models.Message
	index    map[string]int
	state    State
	err      string
	current  *Stream
	version  uint64

	notifyMu sync.Mutex
	notified uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithThinking asks the server to enable or disable the reasoning channel. Without it the server
// default applies.
func WithThinking(enabled bool) Option {
	return func(c *Controller) {
		c.thinking = &enabled
	}
}

// WithOnUpdate registers fn to be called with a fresh snapshot after every change. Calls are
// serialized and never deliver an older snapshot after a newer one. fn must not call back into the
// controller synchronously.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.onUpdate = fn
	}
}

// WithHistory seeds the conversation, typically with a transcript loaded from a store.
func WithHistory(messages []models.Message) Option {
	return func(c *Controller) {
		for _, msg := range messages {
			c.appendLocked(msg.Clone())
		}
	}
}

// New creates a Controller that issues its requests through transport. A nil logger discards all
// output.
func New(transport Transport, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		transport: transport,
		logger:    logger.With(slog.String("module", "chat")),
		index:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send starts a new exchange. The user message and the assistant placeholder are part of the
// conversation when Send returns; the response is streamed in the background. The returned Stream
// can be used to cancel it or wait for it.
//
// Send clears any previous error. It returns ErrBusy if a stream is already active.
func (c *Controller) Send(text string) (*Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}

	now := time.Now()
	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: now,
	}
	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		CreatedAt: now,
	}

	req := models.ChatRequest{
		Messages:       append(models.Turns(c.messages), models.Turn{Role: um.Role, Content: um.Content}),
		EnableThinking: c.thinking,
	}

	c.appendLocked(um)
	c.appendLocked(am)
	c.err = ""
	c.version++

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		ctrl:        c,
		ctx:         ctx,
		cancel:      cancel,
		assistantID: am.ID,
		done:        make(chan struct{}),
	}
	c.current = s
	c.state = StateSending
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	c.logger.Debug("Sending message",
		slog.String("assistantID", am.ID),
		slog.Int("turns", len(req.Messages)))

	go c.run(s, req)

	return s, nil
}

// Stop cancels the active stream, if any. The transcript keeps everything streamed so far and no
// error is recorded. Calling Stop while idle is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.cancelLocked(s)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Clear stops the active stream, if any, empties the conversation and clears the error.
func (c *Controller) Clear() {
	c.mu.Lock()
	if c.current != nil {
		c.cancelLocked(c.current)
	}
	c.messages = nil
	c.index = make(map[string]int)
	c.err = ""
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []models.Message {
	return c.Snapshot().Messages
}

// Active reports whether a stream is in flight.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Err returns the visible error message, or an empty string.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) run(s *Stream, req models.ChatRequest) {
	defer close(s.done)
	defer s.cancel()

	// Stopped before the goroutine got scheduled.
	if s.ctx.Err() != nil {
		return
	}

	body, err := c.transport.Open(s.ctx, req)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		c.fail(s, err)
		return
	}
	defer body.Close()

	// A pending Read only returns promptly on cancellation if the body is closed under it.
	stopClose := context.AfterFunc(s.ctx, func() {
		_ = body.Close()
	})
	defer stopClose()

	if !c.update(s, func() { c.state = StateStreaming }) {
		return
	}

	for ev, err := range stream.Read(body, &stream.ReadConfig{Logger: c.logger}) {
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, stream.ErrTruncated) {
				c.logger.Warn("Stream ended without end marker",
					slog.String("assistantID", s.assistantID),
					slog.String(errLoggerKey, err.Error()))
				c.complete(s, OutcomeTruncated)
				return
			}
			c.fail(s, err)
			return
		}
		if !c.apply(s, ev) {
			return
		}
	}

	c.complete(s, OutcomeCompleted)
}

// apply applies ev to the stream's placeholder and reports whether the stream should keep going.
func (c *Controller) apply(s *Stream, ev stream.Event) bool {
	c.mu.Lock()
	if c.current != s || s.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}

	idx, ok := c.index[s.assistantID]
	cont := true
	switch e := ev.(type) {
	case stream.Reasoning:
		if ok {
			c.messages[idx].Reasoning += e.Text
		}
	case stream.Content:
		if ok {
			c.messages[idx].Content += e.Text
		}
	case stream.Finish:
		if ok {
			c.messages[idx].FinishReason = e.Reason
			c.messages[idx].Usage = e.Usage
		}
		c.state = StateFinishing
		c.endLocked(s, OutcomeCompleted, nil)
		cont = false
	case stream.Error:
		c.logger.Error("Server reported an error",
			slog.String("assistantID", s.assistantID),
			slog.String(errLoggerKey, e.Message))
		c.err = e.Message
		// Retracted only when empty, as after a transport failure.
		c.retractLocked(s.assistantID)
		c.endLocked(s, OutcomeFailed, &ServerError{Message: e.Message})
		cont = false
	}
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return cont
}

func (c *Controller) complete(s *Stream, outcome Outcome) {
	c.update(s, func() {
		c.state = StateFinishing
		c.endLocked(s, outcome, nil)
	})
}

func (c *Controller) fail(s *Stream, err error) {
	c.update(s, func() {
		c.logger.Error("Stream failed",
			slog.String("assistantID", s.assistantID),
			slog.String(errLoggerKey, err.Error()))
		c.err = err.Error()
		c.retractLocked(s.assistantID)
		c.endLocked(s, OutcomeFailed, err)
	})
}

// update runs fn under the lock if s is still the active stream, then notifies observers.
func (c *Controller) update(s *Stream, fn func()) bool {
	c.mu.Lock()
	if c.current != s || s.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	fn()
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

func (c *Controller) cancelLocked(s *Stream) {
	s.cancel()
	c.endLocked(s, OutcomeCancelled, nil)
	c.logger.Debug("Stream cancelled", slog.String("assistantID", s.assistantID))
}

func (c *Controller) endLocked(s *Stream, outcome Outcome, err error) {
	s.outcome = outcome
	s.err = err
	c.current = nil
	c.state = StateIdle
	c.version++
}

func (c *Controller) appendLocked(msg models.Message) {
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
}

// retractLocked removes the message with the given id if nothing was streamed into it.
func (c *Controller) retractLocked(id string) {
	idx, ok := c.index[id]
	if !ok || !c.messages[idx].Empty() {
		return
	}
	c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	delete(c.index, id)
	for i := idx; i < len(c.messages); i++ {
		c.index[c.messages[i].ID] = i
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]models.Message, len(c.messages))
	for i, msg := range c.messages {
		msgs[i] = msg.Clone()
	}
	return Snapshot{
		Messages: msgs,
		Active:   c.current != nil,
		Err:      c.err,
		State:    c.state,
		Version:  c.version,
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.onUpdate == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snap.Version <= c.notified {
		return
	}
	c.notified = snap.Version
	c.onUpdate(snap)
}
