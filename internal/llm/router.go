package llm

import (
	"context"
	"errors"
	"time"

	"goa.design/clue/log"
)

type (
	// TokenEvent is one routed streaming update. A zero Token with Done set
	// marks clean end of stream; Err reports a terminal failure.
	TokenEvent struct {
		Token    string
		Provider string
		Fallback bool
		Done     bool
		Err      error
	}

	// Router streams from the primary backend and switches to the fallback
	// when the primary misses the first-token deadline or fails to open.
	Router struct {
		primary            Backend
		fallback           Backend
		firstTokenDeadline time.Duration
	}
)

// NewRouter builds a router. fallback may be nil to disable switching.
func NewRouter(primary, fallback Backend, firstTokenDeadline time.Duration) (*Router, error) {
	if primary == nil {
		return nil, errors.New("llm: primary backend is required")
	}
	if firstTokenDeadline <= 0 {
		firstTokenDeadline = 200 * time.Millisecond
	}
	return &Router{primary: primary, fallback: fallback, firstTokenDeadline: firstTokenDeadline}, nil
}

// Stream returns a channel of routed token events. The channel is closed
// after a single terminal event (Done or Err). Cancelling ctx tears down
// whichever backend stream is active.
func (r *Router) Stream(ctx context.Context, prompt string, maxTokens int) <-chan TokenEvent {
	events := make(chan TokenEvent, 16)
	go func() {
		defer close(events)
		if r.streamPrimary(ctx, prompt, maxTokens, events) {
			return
		}
		if r.fallback == nil {
			events <- TokenEvent{Provider: r.primary.Name(), Err: errors.New("llm: primary failed and no fallback configured")}
			return
		}
		log.Infof(ctx, "llm: switching to fallback %s", r.fallback.Name())
		r.streamAll(ctx, r.fallback, prompt, maxTokens, true, events)
	}()
	return events
}

// streamPrimary runs the primary under the first-token deadline. It returns
// true when the stream reached a terminal state (success or mid-stream
// failure after first token); false when the router should fall back.
func (r *Router) streamPrimary(ctx context.Context, prompt string, maxTokens int, events chan<- TokenEvent) bool {
	primaryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := r.primary.Stream(primaryCtx, prompt, maxTokens)
	if err != nil {
		log.Warnf(ctx, "llm: primary %s open failed: %v", r.primary.Name(), err)
		return false
	}
	defer func() { _ = stream.Close() }()

	type tok struct {
		text string
		ok   bool
	}
	tokens := make(chan tok, 1)
	go func() {
		for stream.Next() {
			select {
			case tokens <- tok{text: stream.Token(), ok: true}:
			case <-primaryCtx.Done():
				return
			}
		}
		select {
		case tokens <- tok{}:
		case <-primaryCtx.Done():
		}
	}()

	timer := time.NewTimer(r.firstTokenDeadline)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		// Silent past the deadline: cancel and fall back. The deferred
		// cancel and Close release the connection.
		log.Warnf(ctx, "llm: primary %s missed first-token deadline %s", r.primary.Name(), r.firstTokenDeadline)
		return false
	case first := <-tokens:
		if !first.ok {
			// Stream ended before any token; treat as unusable primary.
			return false
		}
		events <- TokenEvent{Token: first.text, Provider: r.primary.Name()}
	}

	// First token arrived in time; drain the rest without a deadline.
	for {
		select {
		case <-ctx.Done():
			return true
		case t := <-tokens:
			if !t.ok {
				if err := stream.Err(); err != nil {
					events <- TokenEvent{Provider: r.primary.Name(), Err: err}
				} else {
					events <- TokenEvent{Provider: r.primary.Name(), Done: true}
				}
				return true
			}
			events <- TokenEvent{Token: t.text, Provider: r.primary.Name()}
		}
	}
}

// streamAll forwards an entire backend stream into events.
func (r *Router) streamAll(ctx context.Context, b Backend, prompt string, maxTokens int, fallback bool, events chan<- TokenEvent) {
	stream, err := b.Stream(ctx, prompt, maxTokens)
	if err != nil {
		events <- TokenEvent{Provider: b.Name(), Fallback: fallback, Err: err}
		return
	}
	defer func() { _ = stream.Close() }()
	for stream.Next() {
		select {
		case <-ctx.Done():
			return
		case events <- TokenEvent{Token: stream.Token(), Provider: b.Name(), Fallback: fallback}:
		}
	}
	if err := stream.Err(); err != nil {
		events <- TokenEvent{Provider: b.Name(), Fallback: fallback, Err: err}
		return
	}
	events <- TokenEvent{Provider: b.Name(), Fallback: fallback, Done: true}
}

// CompleteJSON performs the non-streaming structured JSON call, preferring
// the primary and falling back on failure. Returns the text and the name of
// the backend that produced it.
func (r *Router) CompleteJSON(ctx context.Context, prompt string, maxTokens int) (string, string, error) {
	out, err := r.primary.Complete(ctx, prompt, maxTokens, true)
	if err == nil {
		return out, r.primary.Name(), nil
	}
	if r.fallback == nil {
		return "", r.primary.Name(), err
	}
	log.Warnf(ctx, "llm: structured completion falling back: %v", err)
	out, ferr := r.fallback.Complete(ctx, prompt, maxTokens, true)
	if ferr != nil {
		return "", r.fallback.Name(), errors.Join(err, ferr)
	}
	return out, r.fallback.Name(), nil
}
