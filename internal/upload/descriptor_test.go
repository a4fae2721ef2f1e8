package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		name      string
		totalSize int64
		chunkSize int64
		want      int
		wantErr   bool
	}{
		{name: "exact multiple", totalSize: 9, chunkSize: 3, want: 3},
		{name: "short last chunk", totalSize: 10_000_000, chunkSize: 3_000_000, want: 4},
		{name: "single byte", totalSize: 1, chunkSize: 1 << 20, want: 1},
		{name: "chunk equals total", totalSize: 4096, chunkSize: 4096, want: 1},
		{name: "zero total", totalSize: 0, chunkSize: 10, wantErr: true},
		{name: "negative total", totalSize: -1, chunkSize: 10, wantErr: true},
		{name: "zero chunk", totalSize: 10, chunkSize: 0, wantErr: true},
		{name: "too many chunks", totalSize: maxChunkCount + 1, chunkSize: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChunkCount(tt.totalSize, tt.chunkSize)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescriptor_ChunkSet(t *testing.T) {
	d := &Descriptor{ExpectedChunks: 4, UploadedChunks: []int{}}

	assert.True(t, d.AddChunk(2))
	assert.True(t, d.AddChunk(0))
	assert.False(t, d.AddChunk(2))
	assert.True(t, d.AddChunk(3))
	assert.Equal(t, []int{0, 2, 3}, d.UploadedChunks)
	assert.True(t, d.HasChunk(3))
	assert.False(t, d.HasChunk(1))
	assert.False(t, d.Complete())

	assert.True(t, d.AddChunk(1))
	assert.True(t, d.Complete())

	chunks := d.Chunks()
	chunks[0] = 99
	assert.Equal(t, 0, d.UploadedChunks[0])
}

func TestDescriptor_Persistence(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New().String()
	d := &Descriptor{
		ID:             id,
		FileName:       "a.bin",
		TotalSize:      10,
		ChunkSize:      4,
		ExpectedChunks: 3,
		UploadedChunks: []int{0, 2},
		Paused:         true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, writeDescriptor(dir, d))

	t.Run("reads back the snapshot", func(t *testing.T) {
		got, err := readDescriptor(dir, id)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 2}, got.UploadedChunks)
		assert.True(t, got.Paused)
	})

	t.Run("no temporary files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, descriptorFile, entries[0].Name())
	})

	t.Run("id mismatch is not found", func(t *testing.T) {
		_, err := readDescriptor(dir, uuid.New().String())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("missing descriptor is not found", func(t *testing.T) {
		_, err := readDescriptor(t.TempDir(), id)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	corrupt := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"id": "` + id + `", "fileName": "a.b`},
		{"not json", "garbage"},
		{"count does not match sizes", `{"id":"` + id + `","fileName":"a.bin","totalSize":10,"chunkSize":4,"expectedChunkCount":2}`},
		{"index out of range", `{"id":"` + id + `","fileName":"a.bin","totalSize":10,"chunkSize":4,"expectedChunkCount":3,"uploadedChunks":[5]}`},
		{"duplicate index", `{"id":"` + id + `","fileName":"a.bin","totalSize":10,"chunkSize":4,"expectedChunkCount":3,"uploadedChunks":[1,1]}`},
	}
	for _, tt := range corrupt {
		t.Run(tt.name, func(t *testing.T) {
			badDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(badDir, descriptorFile), []byte(tt.content), 0644))

			_, err := readDescriptor(badDir, id)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}
