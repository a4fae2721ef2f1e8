package storage

import (
	"context"
	"io"
	"os"
	"time"
)

// Entry describes one file or directory below the storage root
type Entry struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"` // file, directory
	Path         string    `json:"path"`
	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// StoredFile is the result of writing a new file into the storage tree
type StoredFile struct {
	Name     string `json:"fileName"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

// FileStorage defines the confined filesystem operations behind the file API.
// Every path argument is relative to the storage root.
type FileStorage interface {
	// Store writes content as dir/name, picking a collision-safe name if taken
	Store(ctx context.Context, dir, name string, content io.Reader) (*StoredFile, error)

	// Open opens a regular file for reading
	Open(ctx context.Context, path string) (*os.File, os.FileInfo, error)

	// Stat returns file info for a file or directory
	Stat(ctx context.Context, path string) (os.FileInfo, error)

	// DeleteFile removes a regular file
	DeleteFile(ctx context.Context, path string) error

	// DeleteDir removes a directory and everything below it
	DeleteDir(ctx context.Context, path string) error

	// MakeDir creates a directory (and parents); it fails if it exists
	MakeDir(ctx context.Context, path string) error

	// Move renames a file or directory; the destination must not exist
	Move(ctx context.Context, src, dst string) error

	// Walk lists entries below dir, recursively when recursive is set
	Walk(ctx context.Context, dir string, recursive bool) ([]Entry, error)
}
