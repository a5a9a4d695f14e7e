// Package stream adapts a producer's chunk sequence to a long-lived client
// connection: an initial connection frame with a retry hint, monotonically
// numbered content frames, periodic heartbeats, disconnect polling, and
// exactly one terminal frame per stream.
package stream

import (
	"encoding/json"
	"time"
)

type (
	// ChunkType classifies a chat stream chunk.
	ChunkType string

	// Chunk is one unit of producer output. Content carries the
	// human-visible text; Metadata carries structured fields that ride
	// along in the serialized frame payload.
	Chunk struct {
		Type     ChunkType      `json:"type"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// Frame is one transport-independent event. ID is a UUID on the
	// connection frame and a decimal content counter on content frames;
	// heartbeats carry no ID. RetryMS is set only on the connection frame.
	Frame struct {
		Event   string
		Data    string
		ID      string
		RetryMS int
	}
)

const (
	ChunkContextInfo     ChunkType = "context_info"
	ChunkToken           ChunkType = "token"
	ChunkCourseHighlight ChunkType = "course_highlight"
	ChunkThinking        ChunkType = "thinking"
	ChunkError           ChunkType = "error"
	ChunkDone            ChunkType = "done"
)

// NewChunk builds a chunk with a copy-free metadata map.
func NewChunk(t ChunkType, content string, meta map[string]any) Chunk {
	return Chunk{Type: t, Content: content, Metadata: meta}
}

// ErrorChunk builds the single error chunk emitted on orchestrator failure.
func ErrorChunk(code, requestID string) Chunk {
	return Chunk{
		Type:    ChunkError,
		Content: code,
		Metadata: map[string]any{
			"error":       code,
			"request_id":  requestID,
			"recoverable": true,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// Data serializes the chunk for a frame payload. Serialization failures
// degrade to the raw content string rather than dropping the chunk.
func (c Chunk) Data() string {
	b, err := json.Marshal(c)
	if err != nil {
		return c.Content
	}
	return string(b)
}
