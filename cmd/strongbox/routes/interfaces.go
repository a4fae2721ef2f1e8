package routes

import (
	"context"
	"io"

	"github.com/lgulliver/strongbox/internal/files"
	"github.com/lgulliver/strongbox/internal/notify"
	"github.com/lgulliver/strongbox/internal/storage"
	"github.com/lgulliver/strongbox/internal/upload"
	"github.com/lgulliver/strongbox/pkg/types"
)

// UploadServiceInterface defines the contract for the chunked upload manager
type UploadServiceInterface interface {
	Init(ctx context.Context, directory, fileName string, totalSize, chunkSize int64) (*upload.Descriptor, error)
	SubmitChunk(ctx context.Context, id string, index int, payload io.Reader) (*upload.ChunkResult, error)
	SetPause(ctx context.Context, id string, paused bool) error
	Stop(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*upload.Status, error)
	Complete(ctx context.Context, id string) (*upload.ChunkResult, error)
}

// HistoryServiceInterface lists assembled uploads
type HistoryServiceInterface interface {
	Recent(ctx context.Context, limit int) ([]types.TransferRecord, error)
}

// FileServiceInterface defines the contract for the file API
type FileServiceInterface interface {
	Upload(ctx context.Context, dir, name string, size int64, content io.Reader) (*storage.StoredFile, error)
	Open(ctx context.Context, filePath string) (*files.Download, error)
	List(ctx context.Context, dir, query string) ([]storage.Entry, error)
	Recent(ctx context.Context) ([]storage.Entry, error)
	MakeDir(ctx context.Context, dirPath string) error
	DeleteDir(ctx context.Context, dirPath string) error
	DeleteFile(ctx context.Context, filePath string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Move(ctx context.Context, sourcePath, destinationPath string) error
}

// TokenServiceInterface exchanges the shared secret for a token
type TokenServiceInterface interface {
	IssueToken(ctx context.Context, key string) (*types.AuthToken, error)
}

// EventSourceInterface hands out event subscriptions
type EventSourceInterface interface {
	Subscribe(ctx context.Context) (<-chan notify.Event, func())
}
