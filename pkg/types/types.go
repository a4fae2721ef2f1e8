package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Upload status values reported by the chunk and status endpoints
const (
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusResumed    = "resumed"
	StatusStopped    = "stopped"
	StatusCompleted  = "completed"
)

// TransferRecord is the history entry written when a chunked upload is
// assembled into a stored file
type TransferRecord struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	UploadID    string    `json:"uploadId" gorm:"uniqueIndex;not null"`
	FileName    string    `json:"fileName" gorm:"not null"`
	StoredPath  string    `json:"storedPath" gorm:"not null"`
	Size        int64     `json:"size"`
	ChunkCount  int       `json:"chunkCount"`
	SHA256      string    `json:"sha256" gorm:"index"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt" gorm:"index"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BeforeCreate generates a UUID for the record ID
func (r *TransferRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// InitUploadRequest opens a chunked upload session
type InitUploadRequest struct {
	Directory string `json:"directory"`
	FileName  string `json:"fileName"`
	TotalSize int64  `json:"totalSize"`
	ChunkSize int64  `json:"chunkSize"`
}

// InitUploadResponse carries the new session id
type InitUploadResponse struct {
	UploadID string `json:"uploadId"`
}

// ChunkResponse is returned for every accepted chunk. FileName is only set
// once the upload has been assembled.
type ChunkResponse struct {
	Status         string `json:"status"`
	UploadedChunks []int  `json:"uploadedChunks,omitempty"`
	FileName       string `json:"fileName,omitempty"`
}

// StatusResponse describes a session as seen by the server
type StatusResponse struct {
	FileName       string `json:"fileName"`
	TotalSize      int64  `json:"totalSize"`
	ChunkSize      int64  `json:"chunkSize,omitempty"`
	TotalChunks    int    `json:"totalChunks,omitempty"`
	UploadedChunks []int  `json:"uploadedChunks"`
	Paused         bool   `json:"paused"`
	Status         string `json:"status"`
}

// StatusOnlyResponse is returned by the pause and stop endpoints
type StatusOnlyResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Status string `json:"status,omitempty"`
}

// AuthToken represents a JWT token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}
