package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
)

const (
	descriptorFile = "descriptor.json"
	chunkPrefix    = "chunk_"

	// maxChunkCount bounds the size of a descriptor
	maxChunkCount = 1 << 20
)

// Descriptor is the durable snapshot of an upload session
type Descriptor struct {
	ID             string    `json:"id"`
	Directory      string    `json:"directory"`
	FileName       string    `json:"fileName"`
	TotalSize      int64     `json:"totalSize"`
	ChunkSize      int64     `json:"chunkSize"`
	ExpectedChunks int       `json:"expectedChunkCount"`
	UploadedChunks []int     `json:"uploadedChunks"`
	Paused         bool      `json:"paused"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ChunkCount returns ceil(totalSize/chunkSize). Both sizes must be positive.
func ChunkCount(totalSize, chunkSize int64) (int, error) {
	if totalSize <= 0 {
		return 0, apperr.Validation("totalSize must be positive, got %d", totalSize)
	}
	if chunkSize <= 0 {
		return 0, apperr.Validation("chunkSize must be positive, got %d", chunkSize)
	}

	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}
	if count > maxChunkCount {
		return 0, apperr.Validation("upload needs %d chunks, at most %d are allowed", count, maxChunkCount)
	}
	return int(count), nil
}

// Destination returns the storage-relative path the upload is assembled to
func (d *Descriptor) Destination() string {
	return path.Join(d.Directory, d.FileName)
}

// HasChunk reports whether index has been accepted
func (d *Descriptor) HasChunk(index int) bool {
	i := sort.SearchInts(d.UploadedChunks, index)
	return i < len(d.UploadedChunks) && d.UploadedChunks[i] == index
}

// AddChunk records index, keeping the set sorted. It returns false if the
// index was already present.
func (d *Descriptor) AddChunk(index int) bool {
	i := sort.SearchInts(d.UploadedChunks, index)
	if i < len(d.UploadedChunks) && d.UploadedChunks[i] == index {
		return false
	}
	d.UploadedChunks = append(d.UploadedChunks, 0)
	copy(d.UploadedChunks[i+1:], d.UploadedChunks[i:])
	d.UploadedChunks[i] = index
	return true
}

// Complete reports whether every expected chunk has been accepted
func (d *Descriptor) Complete() bool {
	return len(d.UploadedChunks) == d.ExpectedChunks
}

// Chunks returns a copy of the accepted indices
func (d *Descriptor) Chunks() []int {
	out := make([]int, len(d.UploadedChunks))
	copy(out, d.UploadedChunks)
	return out
}

// validate rejects snapshots that could not have been written by this
// package
func (d *Descriptor) validate() error {
	expected, err := ChunkCount(d.TotalSize, d.ChunkSize)
	if err != nil {
		return err
	}
	if d.ExpectedChunks != expected {
		return fmt.Errorf("expected chunk count %d does not match sizes", d.ExpectedChunks)
	}
	if d.FileName == "" || d.ID == "" {
		return fmt.Errorf("missing id or file name")
	}
	for i, index := range d.UploadedChunks {
		if index < 0 || index >= d.ExpectedChunks {
			return fmt.Errorf("chunk index %d out of range", index)
		}
		if i > 0 && d.UploadedChunks[i-1] >= index {
			return fmt.Errorf("chunk set is not strictly sorted")
		}
	}
	return nil
}

func chunkFileName(index int) string {
	return fmt.Sprintf("%s%d", chunkPrefix, index)
}

// readDescriptor loads the descriptor from a session directory. A missing or
// unparsable descriptor is NotFound.
func readDescriptor(sessionDir, id string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, descriptorFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("upload session %s", id)
		}
		return nil, apperr.IO("read descriptor", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, apperr.NotFound("upload session %s: unreadable descriptor", id)
	}
	if err := d.validate(); err != nil || d.ID != id {
		return nil, apperr.NotFound("upload session %s: invalid descriptor", id)
	}
	if d.UploadedChunks == nil {
		d.UploadedChunks = []int{}
	}
	return &d, nil
}

// writeDescriptor replaces the descriptor atomically: the snapshot goes to
// a temporary file which is synced and then renamed over the old one.
func writeDescriptor(sessionDir string, d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	tmp, err := os.CreateTemp(sessionDir, descriptorFile+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(sessionDir, descriptorFile)); err != nil {
		os.Remove(tmpName)
		return err
	}

	syncDir(sessionDir)
	return nil
}

// syncDir flushes directory metadata so a rename survives a crash. Not every
// platform supports it, so failures are ignored.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	f.Sync()
	f.Close()
}
