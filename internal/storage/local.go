package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/pathguard"
	"github.com/rs/zerolog/log"
)

// LocalStorage implements FileStorage on the local filesystem. All user
// paths are resolved through the path guard before any filesystem call.
type LocalStorage struct {
	basePath string
	guard    *pathguard.Guard
	now      func() time.Time
}

// NewLocalStorage creates a new local storage rooted at basePath, which
// must be one of the guard's roots
func NewLocalStorage(basePath string, guard *pathguard.Guard) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	canonical, err := guard.Check(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage root is not confined: %w", err)
	}

	log.Info().Str("path", canonical).Msg("local storage initialized")
	return &LocalStorage{
		basePath: canonical,
		guard:    guard,
		now:      time.Now,
	}, nil
}

// BasePath returns the canonical storage root
func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// Resolve maps a user path to its confined absolute path. Paths that the
// guard accepts under a different root are rejected here.
func (ls *LocalStorage) Resolve(path string) (string, error) {
	resolved, err := ls.guard.Resolve(ls.basePath, path)
	if err != nil {
		return "", err
	}
	if !pathguard.IsWithin(resolved, ls.basePath) {
		return "", apperr.InvalidPath("%q is outside the storage root", path)
	}
	return resolved, nil
}

// Create opens a new file dir/name for writing without replacing anything
// that already exists. The returned StoredFile carries the final name and
// path; the caller fills in size and checksum and removes the file if the
// write fails.
func (ls *LocalStorage) Create(ctx context.Context, dir, name string) (*os.File, *StoredFile, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	if err := validateFileName(name); err != nil {
		return nil, nil, err
	}

	targetDir, err := ls.Resolve(dir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("failed to create directory")
		return nil, nil, apperr.IO("create directory", err)
	}

	file, finalName, err := CreateExclusive(targetDir, name, ls.now)
	if err != nil {
		log.Error().Err(err).Str("dir", dir).Str("name", name).Msg("failed to create file")
		return nil, nil, apperr.IO("create file", err)
	}

	rel, err := ls.guard.Rel(file.Name())
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, nil, err
	}

	if finalName != name {
		log.Info().Str("requested", name).Str("stored_as", finalName).Msg("destination exists, using unique name")
	}
	return file, &StoredFile{Name: finalName, Path: rel}, nil
}

// Store writes content under dir with a collision-safe name and a checksum
func (ls *LocalStorage) Store(ctx context.Context, dir, name string, content io.Reader) (*StoredFile, error) {
	startTime := time.Now()

	file, stored, err := ls.Create(ctx, dir, name)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	bytesWritten, err := io.Copy(io.MultiWriter(file, hasher), content)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(file.Name())
		log.Error().Err(err).Str("path", stored.Path).Msg("failed to write file content")
		return nil, apperr.IO("write file", err)
	}

	stored.Size = bytesWritten
	stored.Checksum = hex.EncodeToString(hasher.Sum(nil))

	log.Info().
		Str("path", stored.Path).
		Int64("bytes_written", bytesWritten).
		Str("checksum", stored.Checksum).
		Dur("duration", time.Since(startTime)).
		Msg("file stored successfully")

	return stored, nil
}

// Open opens a regular file below the storage root
func (ls *LocalStorage) Open(ctx context.Context, path string) (*os.File, os.FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	fullPath, err := ls.Resolve(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file not found")
			return nil, nil, apperr.NotFound("file %s", path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open file")
		return nil, nil, apperr.IO("open file", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, apperr.IO("stat file", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, apperr.NotFound("file %s", path)
	}

	return file, info, nil
}

// Stat returns file info for path
func (ls *LocalStorage) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	fullPath, err := ls.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("%s", path)
		}
		return nil, apperr.IO("stat", err)
	}
	return info, nil
}

// DeleteFile removes a regular file
func (ls *LocalStorage) DeleteFile(ctx context.Context, path string) error {
	startTime := time.Now()

	fullPath, err := ls.Resolve(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		log.Debug().Str("path", path).Msg("file to delete does not exist")
		return apperr.NotFound("file %s", path)
	}

	if err := os.Remove(fullPath); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to delete file")
		return apperr.IO("delete file", err)
	}

	log.Info().
		Str("path", path).
		Dur("duration", time.Since(startTime)).
		Msg("file deleted successfully")
	return nil
}

// DeleteDir removes a directory recursively. The storage root itself cannot
// be deleted.
func (ls *LocalStorage) DeleteDir(ctx context.Context, path string) error {
	fullPath, err := ls.Resolve(path)
	if err != nil {
		return err
	}
	if fullPath == ls.basePath {
		return apperr.InvalidPath("cannot delete the storage root")
	}

	info, err := os.Stat(fullPath)
	if err != nil || !info.IsDir() {
		log.Debug().Str("path", path).Msg("directory to delete does not exist")
		return apperr.NotFound("directory %s", path)
	}

	if err := os.RemoveAll(fullPath); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to delete directory")
		return apperr.IO("delete directory", err)
	}

	log.Info().Str("path", path).Msg("directory deleted successfully")
	return nil
}

// MakeDir creates a directory; an existing entry is a conflict
func (ls *LocalStorage) MakeDir(ctx context.Context, path string) error {
	fullPath, err := ls.Resolve(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(fullPath); err == nil {
		return apperr.Conflict("directory %s already exists", path)
	}

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to create directory")
		return apperr.IO("create directory", err)
	}

	log.Info().Str("path", path).Msg("directory created")
	return nil
}

// Move renames src to dst, creating dst's parent for files. An existing
// destination is a conflict.
func (ls *LocalStorage) Move(ctx context.Context, src, dst string) error {
	srcPath, err := ls.Resolve(src)
	if err != nil {
		return err
	}
	dstPath, err := ls.Resolve(dst)
	if err != nil {
		return err
	}
	if srcPath == ls.basePath || dstPath == ls.basePath {
		return apperr.InvalidPath("cannot move the storage root")
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return apperr.NotFound("source %s", src)
	}
	if _, err := os.Lstat(dstPath); err == nil {
		return apperr.Conflict("destination %s already exists", dst)
	}
	if info.IsDir() && pathguard.IsWithin(dstPath, srcPath) {
		return apperr.InvalidPath("cannot move a directory into itself")
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return apperr.IO("create destination directory", err)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		log.Error().Err(err).Str("source", src).Str("destination", dst).Msg("failed to move")
		return apperr.IO("move", err)
	}

	log.Info().Str("source", src).Str("destination", dst).Msg("moved successfully")
	return nil
}

// Walk lists entries below dir. Paths are relative to dir.
func (ls *LocalStorage) Walk(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	startTime := time.Now()

	searchPath, err := ls.Resolve(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(searchPath)
	if err != nil || !info.IsDir() {
		return nil, apperr.NotFound("directory %s", dir)
	}

	entries := []Entry{}
	err = filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				log.Debug().Err(err).Str("path", path).Msg("skipping inaccessible path")
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}
		if path == searchPath {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(searchPath, path)
		if err != nil {
			return err
		}

		entry := Entry{
			Name:         d.Name(),
			Path:         filepath.ToSlash(rel),
			LastModified: info.ModTime(),
		}
		if d.IsDir() {
			entry.Type = "directory"
		} else {
			entry.Type = "file"
			entry.Size = info.Size()
		}
		entries = append(entries, entry)

		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("failed to list directory")
		return nil, apperr.IO("list directory", err)
	}

	log.Debug().
		Str("dir", dir).
		Int("count", len(entries)).
		Dur("duration", time.Since(startTime)).
		Msg("directory listed successfully")

	return entries, nil
}

func validateFileName(name string) error {
	if name == "" || name == "." || name == ".." {
		return apperr.Validation("file name is required")
	}
	if filepath.Base(name) != name || filepath.ToSlash(name) != name {
		return apperr.InvalidPath("file name %q must not contain separators", name)
	}
	return nil
}
