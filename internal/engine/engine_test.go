// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/chatstream/internal/backend"
	"github.com/jeranaias/chatstream/internal/credential"
	"github.com/jeranaias/chatstream/internal/model"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type staticAuth struct {
	err error
}

func (a staticAuth) EnsureValid(ctx context.Context, now int64) (credential.Credential, error) {
	if a.err != nil {
		return credential.Credential{}, a.err
	}
	return credential.Credential{Token: "tok", SessionID: "sess", ExpiresAt: now + 3600}, nil
}

// scriptedServer serves /chat responses keyed on the message text, so a
// single engine can exercise several stream shapes in one test.
func scriptedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		switch req.Message {
		case "hello":
			w.Write([]byte("data: {\"response\":\"Hi\"}\n\ndata: {\"response\":\" there\"}\n\ndata: [DONE]\n\n"))
		case "think":
			w.Write([]byte("data: {\"status\":\"processing\"}\n\ndata: {\"response\":\"ok\"}\n\ndata: [DONE]\n\n"))
		case "fail":
			w.Write([]byte("data: Error:insufficient funds\n\n"))
		case "empty":
			// 200 with no frames at all.
		case "cut":
			// One delta, then the stream dies without a terminal frame.
			w.Write([]byte("data: {\"response\":\"partial\"}\n\n"))
		case "hang":
			// One delta, then hold the connection open until aborted.
			w.Write([]byte("data: {\"response\":\"partial\"}\n\n"))
			flusher.Flush()
			<-r.Context().Done()
		case "silent":
			// Never respond; only a caller-side deadline ends this.
			<-r.Context().Done()
		default:
			t.Errorf("unexpected message %q", req.Message)
		}
	}))
}

func newTestEngine(t *testing.T, url string, opts ...Option) *Engine {
	t.Helper()
	client := backend.NewClient(url, "user", "pass")
	return New(staticAuth{}, client, &backend.EventStreamTransport{}, opts...)
}

func waitTerminal(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.State().Terminal() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("turn never reached a terminal state (state %s)", e.State())
}

// waitForContent polls until the last message shows the wanted content.
func waitForContent(t *testing.T, e *Engine, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msgs := e.Snapshot()
		if len(msgs) > 0 && msgs[len(msgs)-1].Content == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("content %q never appeared", want)
}

func lastMessage(t *testing.T, e *Engine) model.Message {
	t.Helper()
	msgs := e.Snapshot()
	if len(msgs) == 0 {
		t.Fatal("log is empty")
	}
	return msgs[len(msgs)-1]
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestSendMessageStreamsToCompletion(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	transports := []backend.Transport{
		&backend.EventStreamTransport{},
		&backend.ProgressiveTransport{ChunkSize: 5},
	}
	for _, transport := range transports {
		t.Run(transport.Name(), func(t *testing.T) {
			client := backend.NewClient(server.URL, "user", "pass")
			e := New(staticAuth{}, client, transport)

			if err := e.SendMessage("hello"); err != nil {
				t.Fatalf("SendMessage: %v", err)
			}
			waitTerminal(t, e)

			if got := e.State(); got != StateCompleted {
				t.Errorf("state = %s, want completed", got)
			}
			msgs := e.Snapshot()
			if len(msgs) != 2 {
				t.Fatalf("log has %d messages, want 2", len(msgs))
			}
			if msgs[0].Role != model.RoleUser || msgs[0].Content != "hello" {
				t.Errorf("user message = %+v", msgs[0])
			}
			last := msgs[1]
			if last.Content != "Hi there" {
				t.Errorf("content = %q, want %q", last.Content, "Hi there")
			}
			if last.Status != model.StatusComplete {
				t.Errorf("status = %s, want complete", last.Status)
			}
		})
	}
}

func TestThinkingHookObservesStatusMarker(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	statusCh := make(chan string, 1)
	e.OnThinking(func(status string) {
		select {
		case statusCh <- status:
		default:
		}
	})

	if err := e.SendMessage("think"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)

	select {
	case status := <-statusCh:
		if status != "processing" {
			t.Errorf("status = %q, want processing", status)
		}
	default:
		t.Error("thinking hook never fired")
	}
	// Status markers carry no content.
	if got := lastMessage(t, e).Content; got != "ok" {
		t.Errorf("content = %q, want %q", got, "ok")
	}
}

// =============================================================================
// REJECTION AND NO-OPS
// =============================================================================

func TestSendMessageRejectsBlank(t *testing.T) {
	e := newTestEngine(t, "http://127.0.0.1:1")

	for _, text := range []string{"", "   ", "\t\n"} {
		if err := e.SendMessage(text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("SendMessage(%q) = %v, want ErrEmptyMessage", text, err)
		}
	}
	if n := len(e.Snapshot()); n != 0 {
		t.Errorf("log has %d messages after rejected sends, want 0", n)
	}
}

func TestCancelWithNoActiveTurnIsNoOp(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	e.Cancel()
	if n := len(e.Snapshot()); n != 0 {
		t.Errorf("log has %d messages, want 0", n)
	}
	if got := e.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}

	// Also a no-op after a turn has already finished.
	if err := e.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)
	before := e.Snapshot()
	e.Cancel()
	after := e.Snapshot()
	if len(before) != len(after) {
		t.Fatalf("log length changed from %d to %d", len(before), len(after))
	}
	b, a := before[len(before)-1], after[len(after)-1]
	if a.Content != b.Content || a.Status != b.Status {
		t.Error("cancel after completion mutated the log")
	}
}

// =============================================================================
// FAILURE MODES
// =============================================================================

func TestErrorSentinelFailsTurn(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	if err := e.SendMessage("fail"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)

	if got := e.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
	last := lastMessage(t, e)
	if last.Status != model.StatusErrored {
		t.Errorf("status = %s, want errored", last.Status)
	}
	if last.Content != "Error:insufficient funds" {
		t.Errorf("content = %q, want full error payload", last.Content)
	}
}

func TestEmptyStreamReportsNoResponse(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	if err := e.SendMessage("empty"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)

	last := lastMessage(t, e)
	if last.Status != model.StatusErrored {
		t.Errorf("status = %s, want errored", last.Status)
	}
	if last.Content != explainNoResponse {
		t.Errorf("content = %q, want %q", last.Content, explainNoResponse)
	}
}

func TestStreamCutAfterPartialPreservesContent(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	if err := e.SendMessage("cut"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)

	last := lastMessage(t, e)
	if last.Status != model.StatusErrored {
		t.Errorf("status = %s, want errored", last.Status)
	}
	if last.Content != "partial" {
		t.Errorf("content = %q, want preserved partial output", last.Content)
	}
}

func TestAuthFailureFailsTurnBeforeSending(t *testing.T) {
	e := New(
		staticAuth{err: &backend.AuthenticationError{Err: errors.New("login refused")}},
		backend.NewClient("http://127.0.0.1:1", "user", "pass"),
		&backend.EventStreamTransport{},
	)
	if err := e.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)

	if got := e.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
	last := lastMessage(t, e)
	if last.Status != model.StatusErrored {
		t.Errorf("status = %s, want errored", last.Status)
	}
	if !strings.HasPrefix(last.Content, "authentication failed:") {
		t.Errorf("content = %q, want authentication failure framing", last.Content)
	}
}

func TestTurnTimeout(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL, WithTurnTimeout(50*time.Millisecond))
	if err := e.SendMessage("silent"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitTerminal(t, e)

	if got := e.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
	if got := lastMessage(t, e).Content; got != explainTimedOut {
		t.Errorf("content = %q, want %q", got, explainTimedOut)
	}
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelPreservesPartialContent(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	if err := e.SendMessage("hang"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitForContent(t, e, "partial")

	e.Cancel()

	if got := e.State(); got != StateCancelled {
		t.Errorf("state = %s, want cancelled", got)
	}
	last := lastMessage(t, e)
	if last.Status != model.StatusComplete {
		t.Errorf("status = %s, want complete (cancellation is not an error)", last.Status)
	}
	if last.Content != "partial" {
		t.Errorf("content = %q, want preserved partial output", last.Content)
	}
}

func TestNewSendSupersedesActiveTurn(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	if err := e.SendMessage("hang"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitForContent(t, e, "partial")

	if err := e.SendMessage("hello"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	waitTerminal(t, e)

	msgs := e.Snapshot()
	if len(msgs) != 4 {
		t.Fatalf("log has %d messages, want 4", len(msgs))
	}
	superseded := msgs[1]
	if superseded.Status != model.StatusComplete || superseded.Content != "partial" {
		t.Errorf("superseded message = %q/%s, want partial/complete", superseded.Content, superseded.Status)
	}
	final := msgs[3]
	if final.Status != model.StatusComplete || final.Content != "Hi there" {
		t.Errorf("final message = %q/%s, want Hi there/complete", final.Content, final.Status)
	}
	if got := e.State(); got != StateCompleted {
		t.Errorf("state = %s, want completed", got)
	}
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)
	violated := false
	e.OnUpdate(func(msgs []model.Message) {
		streaming := 0
		for _, m := range msgs {
			if m.Status == model.StatusStreaming {
				streaming++
			}
		}
		if streaming > 1 {
			violated = true
		}
	})

	if err := e.SendMessage("hang"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitForContent(t, e, "partial")
	if err := e.SendMessage("hello"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	waitTerminal(t, e)
	e.Cancel()

	if violated {
		t.Error("observed more than one streaming message in a snapshot")
	}
}

func TestConcurrentSendsKeepSingleStream(t *testing.T) {
	server := scriptedServer(t)
	defer server.Close()

	e := newTestEngine(t, server.URL)

	// Racing senders must serialize: each one aborts whatever turn it
	// finds and waits for it to stand down before appending. A lost race
	// here strands a placeholder in streaming state and leaks its turn.
	const senders = 8
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.SendMessage("hang"); err != nil {
				t.Errorf("SendMessage: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs := e.Snapshot()
	if len(msgs) != 2*senders {
		t.Fatalf("log has %d messages, want %d", len(msgs), 2*senders)
	}
	streaming := 0
	for _, m := range msgs {
		if m.Status == model.StatusStreaming {
			streaming++
		}
	}
	if streaming > 1 {
		t.Errorf("%d messages in streaming state, want at most 1", streaming)
	}

	e.Cancel()
	waitTerminal(t, e)
	for i, m := range e.Snapshot() {
		if m.Role == model.RoleAssistant && !m.Status.Terminal() {
			t.Errorf("message %d left in %s state after cancel", i, m.Status)
		}
	}
}
