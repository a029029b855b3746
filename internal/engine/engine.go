// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatstream/internal/backend"
	"github.com/jeranaias/chatstream/internal/credential"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/stream"
	"github.com/jeranaias/chatstream/internal/util"
)

// =============================================================================
// TURN STATE
// =============================================================================

// TurnState tracks the lifecycle of the active turn.
type TurnState int

const (
	StateIdle TurnState = iota
	StateAuthenticating
	StateSending
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

// String returns the name of the state for logging.
func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a turn.
func (s TurnState) Terminal() bool {
	switch s {
	case StateCompleted, StateErrored, StateCancelled:
		return true
	}
	return false
}

// ErrEmptyMessage is returned when SendMessage is given blank input.
var ErrEmptyMessage = errors.New("message is empty")

// User-facing explanations placed on the assistant message when the
// backend produced nothing usable.
const (
	explainNoResponse = "no response received"
	explainStreamCut  = "response stream ended unexpectedly"
	explainTimedOut   = "request timed out"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Authenticator supplies a valid credential before each turn.
type Authenticator interface {
	EnsureValid(ctx context.Context, now int64) (credential.Credential, error)
}

// ChatOpener opens the streaming chat request against the backend.
type ChatOpener interface {
	OpenChat(ctx context.Context, cred credential.Credential, message string) (io.ReadCloser, error)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the conversation log and runs one turn at a time.
//
// SendMessage and Cancel may be called from any goroutine. Registered
// callbacks run with the engine lock held and must not call back into
// the engine.
type Engine struct {
	auth      Authenticator
	chat      ChatOpener
	transport backend.Transport
	timeout   time.Duration
	now       func() int64

	// sendMu serializes whole SendMessage calls so supersede-then-append
	// is atomic with respect to other senders. Never held by the turn
	// goroutine, so it cannot deadlock against a turn winding down.
	sendMu sync.Mutex

	mu    sync.Mutex
	log   *model.Log
	state TurnState
	turn  *turn

	onUpdate   func([]model.Message)
	onThinking func(status string)
}

// turn is the per-request state object. The abort handle and done
// channel are owned by the turn and die with it; the remaining fields
// are guarded by the engine mutex.
type turn struct {
	id          string
	placeholder *model.Message
	handle      *abortHandle
	done        chan struct{}
	started     time.Time

	sawDelta   bool
	sawStatus  bool
	deltas     int
	outcome    TurnState
	finished   bool
	userCancel bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTurnTimeout layers a deadline onto every turn's cancellation
// handle. Zero means no engine-imposed timeout.
func WithTurnTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the epoch-seconds clock. Test hook.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an idle engine with an empty log.
func New(auth Authenticator, chat ChatOpener, transport backend.Transport, opts ...Option) *Engine {
	e := &Engine{
		auth:      auth,
		chat:      chat,
		transport: transport,
		now:       func() int64 { return time.Now().Unix() },
		log:       model.NewLog(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnUpdate registers the snapshot callback invoked after every visible
// change to the log or turn state.
func (e *Engine) OnUpdate(fn func([]model.Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUpdate = fn
}

// OnThinking registers a callback for backend "processing" signals.
// Status markers carry no content; this hook exists purely so a UI can
// show a thinking indicator.
func (e *Engine) OnThinking(fn func(status string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onThinking = fn
}

// State returns the current turn state.
func (e *Engine) State() TurnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active reports whether a turn is in flight.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turn != nil
}

// Snapshot returns value copies of the conversation in order.
func (e *Engine) Snapshot() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Snapshot()
}

// =============================================================================
// SEND / CANCEL
// =============================================================================

// SendMessage starts a new turn for the given user text.
//
// Blank input is rejected. If a turn is still in flight, it is aborted
// first and SendMessage waits for its goroutine to stand down before
// appending anything, so deltas from the superseded request can never
// land on the new placeholder.
func (e *Engine) SendMessage(text string) error {
	if util.IsBlank(text) {
		return ErrEmptyMessage
	}

	// RELIABILITY: sendMu makes abort-wait-append atomic. Without it two
	// racing senders can both observe the same previous turn, append two
	// placeholders, and strand one of them in streaming state.
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	prev := e.turn
	e.mu.Unlock()
	if prev != nil {
		prev.handle.abort()
		<-prev.done
	}

	t := &turn{
		id:      uuid.NewString(),
		handle:  newAbortHandle(),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	e.mu.Lock()
	e.log.Append(model.NewUserMessage(text))
	t.placeholder = model.NewAssistantPlaceholder()
	e.log.Append(t.placeholder)
	e.turn = t
	e.state = StateAuthenticating
	e.notifyLocked()
	e.mu.Unlock()

	go e.run(t, text)
	return nil
}

// Cancel aborts the active turn, if any, and blocks until its goroutine
// has stood down. Cancellation is not a failure: partial content stays
// on the assistant message. Calling Cancel with no active turn is a
// no-op.
func (e *Engine) Cancel() {
	e.mu.Lock()
	t := e.turn
	if t != nil {
		t.userCancel = true
	}
	e.mu.Unlock()
	if t == nil {
		return
	}
	t.handle.abort()
	<-t.done
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// run executes one turn. It is the only goroutine the engine ever
// spawns, and t.done closing is the acknowledgement that no further
// events for this turn can arrive.
func (e *Engine) run(t *turn, text string) {
	defer close(t.done)
	defer func() {
		e.mu.Lock()
		outcome, deltas := t.outcome, t.deltas
		e.mu.Unlock()
		log.Printf("engine: turn %s %s deltas=%d elapsed=%s",
			t.id, outcome, deltas, time.Since(t.started).Round(time.Millisecond))
	}()

	var ctx context.Context
	var cancel context.CancelFunc
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), e.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	t.handle.set(cancel)
	defer t.handle.abort()

	cred, err := e.auth.EnsureValid(ctx, e.now())
	if err != nil {
		e.conclude(t, func() TurnState {
			if t.userCancel || errors.Is(err, context.Canceled) {
				t.placeholder.Finalize(model.StatusCancelled)
				return StateCancelled
			}
			t.placeholder.FailWith(err.Error())
			return StateErrored
		})
		return
	}

	e.setState(t, StateSending)
	body, err := e.chat.OpenChat(ctx, cred, text)
	if err != nil {
		e.endTurn(t, err)
		return
	}
	defer body.Close()

	e.setState(t, StateStreaming)
	streamErr := e.transport.Stream(ctx, body, func(ev stream.Event) {
		e.apply(t, ev)
	})
	e.endTurn(t, streamErr)
}

// apply routes one decoded event to the turn's placeholder message.
// Events for a superseded turn are dropped: the turn pointer is the
// guard, so nothing decoded after a turn ends can touch the log.
func (e *Engine) apply(t *turn, ev stream.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t || t.finished {
		return
	}

	switch ev.Kind {
	case stream.KindDelta:
		t.sawDelta = true
		t.deltas++
		t.placeholder.AppendDelta(ev.Text)
		e.notifyLocked()
	case stream.KindStatus:
		t.sawStatus = true
		if e.onThinking != nil {
			e.onThinking(ev.Text)
		}
	case stream.KindDone:
		t.finished = true
		t.outcome = StateCompleted
		t.placeholder.Finalize(model.StatusComplete)
		e.state = StateCompleted
		e.turn = nil
		e.notifyLocked()
	case stream.KindError:
		t.finished = true
		t.outcome = StateErrored
		t.placeholder.FailWith(ev.Text)
		e.state = StateErrored
		e.turn = nil
		e.notifyLocked()
	}
}

// endTurn settles a turn whose stream returned without a terminal
// frame having been applied. Distinguishes "stopped by user" from
// "backend never started" from "backend died after partial output";
// in the last case the partial content is preserved, not discarded.
func (e *Engine) endTurn(t *turn, err error) {
	e.conclude(t, func() TurnState {
		switch {
		case t.userCancel || errors.Is(err, context.Canceled):
			if t.sawDelta {
				t.placeholder.Finalize(model.StatusComplete)
			} else {
				t.placeholder.Finalize(model.StatusCancelled)
			}
			return StateCancelled

		case errors.Is(err, context.DeadlineExceeded):
			if t.sawDelta {
				t.placeholder.Finalize(model.StatusErrored)
			} else {
				t.placeholder.FailWith(explainTimedOut)
			}
			return StateErrored

		default:
			if err != nil {
				log.Printf("engine: turn %s transport failure: %v", t.id, err)
			}
			if t.sawDelta {
				t.placeholder.Finalize(model.StatusErrored)
			} else if t.sawStatus {
				t.placeholder.FailWith(explainStreamCut)
			} else {
				t.placeholder.FailWith(explainNoResponse)
			}
			return StateErrored
		}
	})
}

// conclude finishes the turn under the engine lock, if it is still the
// active turn. No-op when a terminal event already settled it.
func (e *Engine) conclude(t *turn, settle func() TurnState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t || t.finished {
		return
	}
	t.finished = true
	e.state = settle()
	t.outcome = e.state
	e.turn = nil
	e.notifyLocked()
}

// setState records a non-terminal state transition for the turn.
func (e *Engine) setState(t *turn, s TurnState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t || t.finished {
		return
	}
	e.state = s
	e.notifyLocked()
}

// notifyLocked hands a snapshot to the registered observer. Caller
// must hold the engine mutex.
func (e *Engine) notifyLocked() {
	if e.onUpdate != nil {
		e.onUpdate(e.log.Snapshot())
	}
}
