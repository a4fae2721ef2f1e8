package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/pathguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("root of the guard", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "nested", "path")
		guard, err := pathguard.New(root)
		require.NoError(t, err)

		storage, err := NewLocalStorage(root, guard)
		require.NoError(t, err)
		assert.Equal(t, guard.Root(0), storage.BasePath())

		info, err := os.Stat(root)
		assert.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("path outside the guard", func(t *testing.T) {
		guard, err := pathguard.New(t.TempDir())
		require.NoError(t, err)

		storage, err := NewLocalStorage(t.TempDir(), guard)
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("file instead of directory", func(t *testing.T) {
		guard, err := pathguard.New(t.TempDir())
		require.NoError(t, err)

		storage, err := NewLocalStorage(createTempFile(t), guard)
		assert.Error(t, err)
		assert.Nil(t, storage)
	})
}

func TestLocalStorage_ResolveStaysInStorageRoot(t *testing.T) {
	base := t.TempDir()
	guard, err := pathguard.New(filepath.Join(base, "storage"), filepath.Join(base, "temp"))
	require.NoError(t, err)
	storage, err := NewLocalStorage(guard.Root(0), guard)
	require.NoError(t, err)

	_, err = storage.Resolve("../temp/session")
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)

	got, err := storage.Resolve("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(guard.Root(0), "docs", "a.txt"), got)
}

func TestLocalStorage_Store(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		dir         string
		fileName    string
		content     string
		wantPath    string
		shouldError bool
	}{
		{
			name:     "simple file",
			fileName: "test.txt",
			content:  "hello world",
			wantPath: "test.txt",
		},
		{
			name:     "nested path",
			dir:      "nested/dir",
			fileName: "test.txt",
			content:  "nested content",
			wantPath: "nested/dir/test.txt",
		},
		{
			name:     "binary content",
			fileName: "binary.bin",
			content:  string([]byte{0x00, 0x01, 0x02, 0xFF}),
			wantPath: "binary.bin",
		},
		{
			name:     "empty content",
			fileName: "empty.txt",
			content:  "",
			wantPath: "empty.txt",
		},
		{
			name:        "name with separator",
			fileName:    "a/b.txt",
			shouldError: true,
		},
		{
			name:        "empty name",
			fileName:    "",
			shouldError: true,
		},
		{
			name:        "directory escaping the root",
			dir:         "../../outside",
			fileName:    "x.txt",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := storage.Store(ctx, tt.dir, tt.fileName, strings.NewReader(tt.content))

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, stored)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, stored.Path)
			assert.Equal(t, int64(len(tt.content)), stored.Size)

			sum := sha256.Sum256([]byte(tt.content))
			assert.Equal(t, hex.EncodeToString(sum[:]), stored.Checksum)

			file, _, err := storage.Open(ctx, stored.Path)
			require.NoError(t, err)
			defer file.Close()

			content, err := io.ReadAll(file)
			assert.NoError(t, err)
			assert.Equal(t, tt.content, string(content))
		})
	}
}

func TestLocalStorage_StoreNeverOverwrites(t *testing.T) {
	storage := setupTestStorage(t)
	storage.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 15, 123*int(time.Millisecond), time.UTC)
	}
	ctx := context.Background()

	first, err := storage.Store(ctx, "", "report.pdf", strings.NewReader("first"))
	require.NoError(t, err)
	second, err := storage.Store(ctx, "", "report.pdf", strings.NewReader("second"))
	require.NoError(t, err)
	third, err := storage.Store(ctx, "", "report.pdf", strings.NewReader("third"))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", first.Name)
	assert.Equal(t, "report_20260314093015123.pdf", second.Name)
	assert.Equal(t, "report_20260314093015123-1.pdf", third.Name)

	for name, want := range map[string]string{first.Path: "first", second.Path: "second", third.Path: "third"} {
		data, err := os.ReadFile(filepath.Join(storage.BasePath(), name))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestLocalStorage_StoreAtomic(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("failed write cleanup", func(t *testing.T) {
		reader := &failingReader{
			data:      []byte("some data"),
			failAfter: 5,
		}

		_, err := storage.Store(ctx, "", "failed.txt", reader)
		assert.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrIO)

		_, err = os.Stat(filepath.Join(storage.BasePath(), "failed.txt"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestLocalStorage_Open(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.Store(ctx, "docs", "a.txt", strings.NewReader("abc"))
	require.NoError(t, err)

	t.Run("existing file", func(t *testing.T) {
		file, info, err := storage.Open(ctx, "docs/a.txt")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, int64(3), info.Size())
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := storage.Open(ctx, "docs/missing.txt")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("directory", func(t *testing.T) {
		_, _, err := storage.Open(ctx, "docs")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("traversal", func(t *testing.T) {
		_, _, err := storage.Open(ctx, "../../../etc/passwd")
		assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	})
}

func TestLocalStorage_Delete(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.Store(ctx, "dir/sub", "f.txt", strings.NewReader("x"))
	require.NoError(t, err)

	t.Run("delete file", func(t *testing.T) {
		require.NoError(t, storage.DeleteFile(ctx, "dir/sub/f.txt"))
		_, err := storage.Stat(ctx, "dir/sub/f.txt")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("delete missing file", func(t *testing.T) {
		err := storage.DeleteFile(ctx, "dir/sub/f.txt")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("delete file on a directory", func(t *testing.T) {
		err := storage.DeleteFile(ctx, "dir")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("delete directory recursively", func(t *testing.T) {
		require.NoError(t, storage.DeleteDir(ctx, "dir"))
		_, err := storage.Stat(ctx, "dir")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("delete root", func(t *testing.T) {
		err := storage.DeleteDir(ctx, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	})
}

func TestLocalStorage_MakeDir(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.MakeDir(ctx, "photos/2026"))
	info, err := storage.Stat(ctx, "photos/2026")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	err = storage.MakeDir(ctx, "photos/2026")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = storage.MakeDir(ctx, "../escape")
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
}

func TestLocalStorage_Move(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.Store(ctx, "a", "one.txt", strings.NewReader("1"))
	require.NoError(t, err)
	_, err = storage.Store(ctx, "a", "two.txt", strings.NewReader("2"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		src     string
		dst     string
		wantErr error
	}{
		{name: "rename file", src: "a/one.txt", dst: "a/uno.txt"},
		{name: "move file into new directory", src: "a/uno.txt", dst: "b/uno.txt"},
		{name: "destination exists", src: "a/two.txt", dst: "b/uno.txt", wantErr: apperr.ErrConflict},
		{name: "missing source", src: "a/nope.txt", dst: "b/nope.txt", wantErr: apperr.ErrNotFound},
		{name: "directory into itself", src: "a", dst: "a/inner", wantErr: apperr.ErrInvalidPath},
		{name: "destination escapes", src: "a/two.txt", dst: "../../two.txt", wantErr: apperr.ErrInvalidPath},
		{name: "rename directory", src: "a", dst: "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.Move(ctx, tt.src, tt.dst)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			_, err = storage.Stat(ctx, tt.dst)
			assert.NoError(t, err)
			_, err = storage.Stat(ctx, tt.src)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestLocalStorage_Walk(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"file1.txt", "dir1/file2.txt", "dir1/dir2/file3.txt"} {
		_, err := storage.Store(ctx, filepath.ToSlash(filepath.Dir(p)), filepath.Base(p), strings.NewReader("content"))
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		dir       string
		recursive bool
		expected  []string
	}{
		{
			name:     "root non-recursive",
			expected: []string{"file1.txt", "dir1"},
		},
		{
			name:      "root recursive",
			recursive: true,
			expected:  []string{"file1.txt", "dir1", "dir1/file2.txt", "dir1/dir2", "dir1/dir2/file3.txt"},
		},
		{
			name:     "subdirectory",
			dir:      "dir1",
			expected: []string{"file2.txt", "dir2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := storage.Walk(ctx, tt.dir, tt.recursive)
			require.NoError(t, err)

			paths := make([]string, 0, len(entries))
			for _, e := range entries {
				paths = append(paths, e.Path)
				if e.Type == "file" {
					assert.Equal(t, int64(7), e.Size)
				}
			}
			assert.ElementsMatch(t, tt.expected, paths)
		})
	}

	t.Run("missing directory", func(t *testing.T) {
		_, err := storage.Walk(ctx, "nope", false)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestLocalStorage_ConcurrentAccess(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("concurrent writes of the same name", func(t *testing.T) {
		const numGoroutines = 10
		var wg sync.WaitGroup
		wg.Add(numGoroutines)

		names := make(chan string, numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(index int) {
				defer wg.Done()

				stored, err := storage.Store(ctx, "same", "shared.txt", strings.NewReader(fmt.Sprintf("content %d", index)))
				if assert.NoError(t, err) {
					names <- stored.Name
				}
			}(i)
		}

		wg.Wait()
		close(names)

		seen := map[string]bool{}
		for name := range names {
			assert.False(t, seen[name], "duplicate name %s", name)
			seen[name] = true
		}
		assert.Len(t, seen, numGoroutines)
	})
}

func TestLocalStorage_ContextCancellation(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("store with cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.Store(ctx, "", "cancelled.txt", strings.NewReader("content"))
		assert.Equal(t, context.Canceled, err)
	})

	t.Run("open with cancelled context", func(t *testing.T) {
		_, err := storage.Store(context.Background(), "", "open_cancel.txt", strings.NewReader("content"))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		file, _, err := storage.Open(ctx, "open_cancel.txt")
		assert.Equal(t, context.Canceled, err)
		assert.Nil(t, file)
	})
}

// Helper functions

func setupTestStorage(t *testing.T) *LocalStorage {
	root := filepath.Join(t.TempDir(), "storage")
	guard, err := pathguard.New(root)
	require.NoError(t, err)
	storage, err := NewLocalStorage(root, guard)
	require.NoError(t, err)
	return storage
}

func createTempFile(t *testing.T) string {
	tempFile, err := os.CreateTemp(t.TempDir(), "test")
	require.NoError(t, err)
	tempFile.Close()
	return tempFile.Name()
}

// failingReader is a test helper that fails after reading a certain number of bytes
type failingReader struct {
	data      []byte
	pos       int
	failAfter int
}

func (fr *failingReader) Read(p []byte) (n int, err error) {
	if fr.pos >= fr.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	if fr.pos >= len(fr.data) {
		return 0, io.EOF
	}

	end := fr.failAfter
	if end > len(fr.data) {
		end = len(fr.data)
	}
	n = copy(p, fr.data[fr.pos:end])
	fr.pos += n
	return n, nil
}
