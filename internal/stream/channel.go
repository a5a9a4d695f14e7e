package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
)

type (
	// Options tunes the event channel. Zero values take defaults.
	Options struct {
		// HeartbeatInterval spaces ping frames. Default 10s.
		HeartbeatInterval time.Duration
		// DisconnectPoll spaces calls to the disconnect probe. Default 2s.
		DisconnectPoll time.Duration
		// Disconnected reports whether the client has gone away. Optional;
		// nil disables polling (frame-write errors still end the stream).
		Disconnected func() bool
		// RetryMS is the reconnect hint on the connection frame. Default 3000.
		RetryMS int
	}

	// Channel frames one producer stream for one client connection. Not
	// reusable across streams.
	Channel struct {
		opts      Options
		contentID int64
	}
)

const (
	defaultHeartbeat      = 10 * time.Second
	defaultDisconnectPoll = 2 * time.Second
	defaultRetryMS        = 3000

	// queueTick bounds every frame enqueue so a stalled consumer cannot
	// wedge the producer tree forever.
	queueTick = time.Second
)

// NewChannel builds a channel for a single stream.
func NewChannel(opts Options) *Channel {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.DisconnectPoll <= 0 {
		opts.DisconnectPoll = defaultDisconnectPoll
	}
	if opts.RetryMS <= 0 {
		opts.RetryMS = defaultRetryMS
	}
	return &Channel{opts: opts}
}

// Run frames chunks from producer until it closes, ctx is cancelled, or the
// client disconnects. The returned channel yields the connection frame first,
// content frames with sequential ids starting at 1 interleaved with
// heartbeats, then exactly one terminal frame (done, error, or cancelled),
// after which it is closed. Heartbeats never consume content ids.
func (c *Channel) Run(ctx context.Context, producer <-chan Chunk) <-chan Frame {
	frames := make(chan Frame, 16)
	go c.run(ctx, producer, frames)
	return frames
}

func (c *Channel) run(ctx context.Context, producer <-chan Chunk, frames chan<- Frame) {
	defer close(frames)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !c.send(streamCtx, frames, Frame{
		Event:   "connection",
		Data:    "connected",
		ID:      uuid.NewString(),
		RetryMS: c.opts.RetryMS,
	}) {
		c.terminal(frames, c.cancelledFrame())
		return
	}

	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	var disconnect <-chan time.Time
	if c.opts.Disconnected != nil {
		poll := time.NewTicker(c.opts.DisconnectPoll)
		defer poll.Stop()
		disconnect = poll.C
	}

	for {
		select {
		case <-streamCtx.Done():
			c.terminal(frames, c.cancelledFrame())
			return
		case <-disconnect:
			if c.opts.Disconnected() {
				log.Debugf(streamCtx, "stream: client disconnected, cancelling producers")
				cancel()
				c.terminal(frames, c.cancelledFrame())
				return
			}
		case <-heartbeat.C:
			if !c.send(streamCtx, frames, Frame{Event: "ping", Data: "heartbeat"}) {
				c.terminal(frames, c.cancelledFrame())
				return
			}
		case chunk, ok := <-producer:
			if !ok {
				c.terminal(frames, Frame{Event: "done", Data: "stream_complete", ID: c.nextID()})
				return
			}
			if chunk.Type == ChunkError {
				c.terminal(frames, c.errorFrame(chunk))
				return
			}
			if chunk.Type == ChunkDone {
				// Producer-supplied done carries the final payload and is
				// the stream's terminal frame.
				c.terminal(frames, Frame{Event: "done", Data: chunk.Data(), ID: c.nextID()})
				return
			}
			if !c.send(streamCtx, frames, Frame{
				Event: string(chunk.Type),
				Data:  chunk.Data(),
				ID:    c.nextID(),
			}) {
				c.terminal(frames, c.cancelledFrame())
				return
			}
		}
	}
}

// send enqueues a frame with a bounded wait, re-checking liveness every
// queueTick. Returns false when the stream context ended first.
func (c *Channel) send(ctx context.Context, frames chan<- Frame, f Frame) bool {
	for {
		tick := time.NewTimer(queueTick)
		select {
		case frames <- f:
			tick.Stop()
			return true
		case <-ctx.Done():
			tick.Stop()
			return false
		case <-tick.C:
		}
	}
}

// terminal emits the single terminal frame, best-effort with a bounded wait
// so a gone consumer cannot block shutdown.
func (c *Channel) terminal(frames chan<- Frame, f Frame) {
	tick := time.NewTimer(queueTick)
	defer tick.Stop()
	select {
	case frames <- f:
	case <-tick.C:
	}
}

func (c *Channel) nextID() string {
	c.contentID++
	return strconv.FormatInt(c.contentID, 10)
}

func (c *Channel) errorFrame(chunk Chunk) Frame {
	payload := map[string]any{
		"error":       chunk.Content,
		"recoverable": true,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range chunk.Metadata {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(`{"error":"internal","recoverable":true}`)
	}
	return Frame{Event: "error", Data: string(b), ID: c.nextID()}
}

func (c *Channel) cancelledFrame() Frame {
	return Frame{Event: "cancelled", Data: "stream_cancelled", ID: c.nextID()}
}
