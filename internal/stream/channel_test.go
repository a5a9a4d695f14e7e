package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-deadline:
			t.Fatal("stream did not complete")
		}
	}
}

func TestRunFramesProducerStream(t *testing.T) {
	producer := make(chan Chunk, 4)
	producer <- NewChunk(ChunkToken, "hello", nil)
	producer <- NewChunk(ChunkToken, " world", nil)
	close(producer)

	frames := collect(t, NewChannel(Options{}).Run(context.Background(), producer))
	require.Len(t, frames, 4)

	conn := frames[0]
	require.Equal(t, "connection", conn.Event)
	require.Equal(t, "connected", conn.Data)
	require.NotEmpty(t, conn.ID)
	require.Equal(t, 3000, conn.RetryMS)

	require.Equal(t, "token", frames[1].Event)
	require.Equal(t, "1", frames[1].ID)
	require.Equal(t, "token", frames[2].Event)
	require.Equal(t, "2", frames[2].ID)

	require.Equal(t, "done", frames[3].Event)
	require.Equal(t, "stream_complete", frames[3].Data, "producer close yields the default done frame")
	require.Equal(t, "3", frames[3].ID)
}

func TestRunDoneChunkCarriesPayload(t *testing.T) {
	producer := make(chan Chunk, 2)
	done := NewChunk(ChunkDone, "", map[string]any{"conversation_id": "conv-1", "validation_passed": true})
	producer <- done
	close(producer)

	frames := collect(t, NewChannel(Options{}).Run(context.Background(), producer))
	require.Len(t, frames, 2)
	require.Equal(t, "done", frames[1].Event)
	require.Equal(t, done.Data(), frames[1].Data, "a producer done chunk is the terminal frame with its payload")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[1].Data), &payload))
	meta := payload["metadata"].(map[string]any)
	require.Equal(t, "conv-1", meta["conversation_id"])
}

func TestRunErrorChunkTerminates(t *testing.T) {
	producer := make(chan Chunk, 2)
	producer <- ErrorChunk("generation_failed", "req-1")
	producer <- NewChunk(ChunkToken, "never seen", nil)

	frames := collect(t, NewChannel(Options{}).Run(context.Background(), producer))
	require.Len(t, frames, 2, "error is terminal even with chunks still queued")
	require.Equal(t, "error", frames[1].Event)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[1].Data), &payload))
	require.Equal(t, "generation_failed", payload["error"])
	require.Equal(t, "req-1", payload["request_id"])
	require.Equal(t, true, payload["recoverable"])
}

func TestRunHeartbeatsCarryNoID(t *testing.T) {
	producer := make(chan Chunk)
	ch := NewChannel(Options{HeartbeatInterval: 10 * time.Millisecond})
	frames := ch.Run(context.Background(), producer)

	require.Equal(t, "connection", (<-frames).Event)

	sawPing := false
	timeout := time.After(2 * time.Second)
	for !sawPing {
		select {
		case f := <-frames:
			if f.Event == "ping" {
				require.Empty(t, f.ID, "heartbeats must not consume content ids")
				sawPing = true
			}
		case <-timeout:
			t.Fatal("no heartbeat observed")
		}
	}

	producer <- NewChunk(ChunkToken, "x", nil)
	for f := range frames {
		if f.Event == "token" {
			require.Equal(t, "1", f.ID, "content ids are unaffected by heartbeats")
			close(producer)
		}
		if f.Event == "done" {
			break
		}
	}
}

func TestRunContextCancelled(t *testing.T) {
	producer := make(chan Chunk)
	ctx, cancel := context.WithCancel(context.Background())
	frames := NewChannel(Options{}).Run(ctx, producer)

	require.Equal(t, "connection", (<-frames).Event)
	cancel()

	var last Frame
	for f := range frames {
		last = f
	}
	require.Equal(t, "cancelled", last.Event)
	require.Equal(t, "stream_cancelled", last.Data)
}

func TestRunDisconnectPolling(t *testing.T) {
	producer := make(chan Chunk)
	gone := make(chan struct{})
	ch := NewChannel(Options{
		DisconnectPoll: 5 * time.Millisecond,
		Disconnected: func() bool {
			select {
			case <-gone:
				return true
			default:
				return false
			}
		},
	})
	frames := ch.Run(context.Background(), producer)
	require.Equal(t, "connection", (<-frames).Event)

	close(gone)
	var last Frame
	for f := range frames {
		last = f
	}
	require.Equal(t, "cancelled", last.Event)
}

func TestSingleTerminalFrame(t *testing.T) {
	producer := make(chan Chunk, 3)
	producer <- NewChunk(ChunkDone, "", map[string]any{"k": "v"})
	producer <- ErrorChunk("late", "req")
	close(producer)

	frames := collect(t, NewChannel(Options{}).Run(context.Background(), producer))
	terminals := 0
	for _, f := range frames {
		if f.Event == "done" || f.Event == "error" || f.Event == "cancelled" {
			terminals++
		}
	}
	require.Equal(t, 1, terminals)
	require.Equal(t, "done", frames[len(frames)-1].Event)
}
