package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/pathguard"
	"github.com/lgulliver/strongbox/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestService(t *testing.T) (*Service, string) {
	base := t.TempDir()
	guard, err := pathguard.New(filepath.Join(base, "storage"), filepath.Join(base, "temp"))
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(guard.Root(0), guard)
	require.NoError(t, err)

	return NewService(store, 64), guard.Root(0)
}

func writeFile(t *testing.T, root, rel, content string) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func names(entries []storage.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestUpload(t *testing.T) {
	service, root := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		dir      string
		fileName string
		content  string
		wantName string
		wantErr  error
	}{
		{name: "new file", dir: "docs", fileName: "a.txt", content: "hello", wantName: "a.txt"},
		{name: "client path is reduced to its base name", dir: "docs", fileName: `C:\Users\me\b.txt`, content: "hi", wantName: "b.txt"},
		{name: "empty file", fileName: "empty.txt", content: "", wantErr: apperr.ErrValidation},
		{name: "above the limit", fileName: "big.bin", content: strings.Repeat("x", 65), wantErr: apperr.ErrValidation},
		{name: "directory outside the root", dir: "../..", fileName: "x.txt", content: "x", wantErr: apperr.ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := service.Upload(ctx, tt.dir, tt.fileName, int64(len(tt.content)), strings.NewReader(tt.content))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, stored.Name)

			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(stored.Path)))
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data))
		})
	}

	t.Run("declared size lies", func(t *testing.T) {
		_, err := service.Upload(ctx, "", "liar.bin", 10, strings.NewReader(strings.Repeat("y", 100)))
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = os.Stat(filepath.Join(root, "liar.bin"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("existing name is kept", func(t *testing.T) {
		stored, err := service.Upload(ctx, "docs", "a.txt", 3, strings.NewReader("new"))
		require.NoError(t, err)
		assert.NotEqual(t, "a.txt", stored.Name)

		original, err := os.ReadFile(filepath.Join(root, "docs", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(original))
	})
}

func TestOpen(t *testing.T) {
	service, root := setupTestService(t)
	ctx := context.Background()

	writeFile(t, root, "docs/report.pdf", "%PDF-1.4")
	writeFile(t, root, "docs/noext", "\x89PNG\r\n\x1a\n0000")

	tests := []struct {
		path        string
		contentType string
	}{
		{"docs/report.pdf", "application/pdf"},
		{"docs/noext", "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			download, err := service.Open(ctx, tt.path)
			require.NoError(t, err)
			defer download.File.Close()

			assert.Equal(t, tt.contentType, download.ContentType)

			// Sniffing must not consume the stream
			data, err := io.ReadAll(download.File)
			require.NoError(t, err)
			assert.Equal(t, download.Size, int64(len(data)))
		})
	}

	_, err := service.Open(ctx, "docs/missing.txt")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = service.Open(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, apperr.ErrInvalidPath)
}

func TestList(t *testing.T) {
	service, root := setupTestService(t)
	ctx := context.Background()

	writeFile(t, root, "Beta.txt", "b")
	writeFile(t, root, "alpha.txt", "a")
	writeFile(t, root, "Holiday Photos/sea side.jpg", "img")
	writeFile(t, root, "Holiday Photos/mountain.jpg", "img")
	writeFile(t, root, "work/seaside-report.docx", "doc")

	t.Run("top level sorted by name", func(t *testing.T) {
		entries, err := service.List(ctx, "", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"Beta.txt", "Holiday Photos", "alpha.txt", "work"}, names(entries))
	})

	t.Run("subdirectory", func(t *testing.T) {
		entries, err := service.List(ctx, "Holiday Photos", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"mountain.jpg", "sea side.jpg"}, names(entries))
	})

	t.Run("search ignores case and spaces and recurses", func(t *testing.T) {
		entries, err := service.List(ctx, "", "SEA SIDE")
		require.NoError(t, err)
		assert.Equal(t, []string{"sea side.jpg", "seaside-report.docx"}, names(entries))
		assert.Equal(t, "Holiday Photos/sea side.jpg", entries[0].Path)
	})

	t.Run("search matches directories", func(t *testing.T) {
		entries, err := service.List(ctx, "", "holidayphotos")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "directory", entries[0].Type)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := service.List(ctx, "nope", "")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("escaping directory", func(t *testing.T) {
		_, err := service.List(ctx, "..", "")
		assert.ErrorIs(t, err, apperr.ErrInvalidPath)
	})
}

func TestRecent(t *testing.T) {
	service, root := setupTestService(t)
	ctx := context.Background()

	now := time.Now()
	service.now = func() time.Time { return now }

	writeFile(t, root, "old.txt", "o")
	writeFile(t, root, "a/new.txt", "n")
	writeFile(t, root, "a/newer.txt", "n")

	old := now.Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old.txt"), old, old))
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "new.txt"), now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "newer.txt"), now.Add(-time.Hour), now.Add(-time.Hour)))

	entries, err := service.Recent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"newer.txt", "new.txt"}, names(entries))
	assert.Equal(t, "a/newer.txt", entries[0].Path)
}

func TestDirectoryOperations(t *testing.T) {
	service, root := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, service.MakeDir(ctx, "projects/2026"))
	assert.ErrorIs(t, service.MakeDir(ctx, "projects/2026"), apperr.ErrConflict)
	assert.ErrorIs(t, service.MakeDir(ctx, ""), apperr.ErrValidation)
	assert.ErrorIs(t, service.MakeDir(ctx, "../outside"), apperr.ErrInvalidPath)

	writeFile(t, root, "projects/2026/plan.txt", "plan")

	assert.ErrorIs(t, service.DeleteFile(ctx, "projects/2026/missing.txt"), apperr.ErrNotFound)
	require.NoError(t, service.DeleteFile(ctx, "projects/2026/plan.txt"))

	require.NoError(t, service.DeleteDir(ctx, "projects"))
	_, err := os.Stat(filepath.Join(root, "projects"))
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, service.DeleteDir(ctx, "projects"), apperr.ErrNotFound)
	assert.ErrorIs(t, service.DeleteDir(ctx, ""), apperr.ErrValidation)
}

func TestRenameAndMove(t *testing.T) {
	service, root := setupTestService(t)
	ctx := context.Background()

	writeFile(t, root, "inbox/a.txt", "a")
	writeFile(t, root, "inbox/b.txt", "b")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "archive"), 0755))

	require.NoError(t, service.Rename(ctx, "inbox/a.txt", "inbox/renamed.txt"))
	assert.FileExists(t, filepath.Join(root, "inbox", "renamed.txt"))

	require.NoError(t, service.Move(ctx, "inbox/renamed.txt", "archive"))
	assert.FileExists(t, filepath.Join(root, "archive", "renamed.txt"))

	require.NoError(t, service.Move(ctx, "inbox/b.txt", "archive/2026/b.txt"))
	assert.FileExists(t, filepath.Join(root, "archive", "2026", "b.txt"))

	writeFile(t, root, "inbox/renamed.txt", "again")
	assert.ErrorIs(t, service.Move(ctx, "inbox/renamed.txt", "archive"), apperr.ErrConflict)
	assert.ErrorIs(t, service.Rename(ctx, "inbox/renamed.txt", "../../x"), apperr.ErrInvalidPath)
	assert.ErrorIs(t, service.Rename(ctx, "", "x"), apperr.ErrValidation)
	assert.ErrorIs(t, service.Move(ctx, "inbox/none.txt", "archive/none.txt"), apperr.ErrNotFound)
}
