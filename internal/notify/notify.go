// Package notify fans out best-effort transfer progress events. Nothing in
// the upload path depends on delivery: publishers never block and slow
// subscribers lose events.
package notify

import (
	"context"
	"time"
)

// Event types
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
	EventMessage  = "message"
)

// Event is a single notification pushed to subscribers
type Event struct {
	Type           string    `json:"type"`
	UploadID       string    `json:"uploadId,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	UploadedChunks int       `json:"uploadedChunks,omitempty"`
	TotalChunks    int       `json:"totalChunks,omitempty"`
	Progress       float64   `json:"progress,omitempty"`
	Message        string    `json:"message,omitempty"`
	Time           time.Time `json:"time"`
}

// Publisher accepts events
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Hub is a Publisher that also hands out subscriptions
type Hub interface {
	Publisher

	// Subscribe returns a channel of events and a function that ends the
	// subscription. The channel is closed when the subscription ends.
	Subscribe(ctx context.Context) (<-chan Event, func())

	Close() error
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, Event) {}

// Progress builds a progress event for an upload
func Progress(uploadID, fileName string, uploaded, total int) Event {
	var progress float64
	if total > 0 {
		progress = float64(uploaded) / float64(total)
	}
	return Event{
		Type:           EventProgress,
		UploadID:       uploadID,
		FileName:       fileName,
		UploadedChunks: uploaded,
		TotalChunks:    total,
		Progress:       progress,
		Time:           time.Now().UTC(),
	}
}
