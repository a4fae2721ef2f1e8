// Package files implements the browsing and housekeeping operations of the
// file API on top of the confined storage layer.
package files

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/storage"
	"github.com/rs/zerolog/log"
)

// RecentWindow is how far back Recent looks
const RecentWindow = 7 * 24 * time.Hour

var mimeTypes = map[string]string{
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".csv":  "text/csv",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".zip":  "application/zip",
	".rar":  "application/x-rar-compressed",
	".7z":   "application/x-7z-compressed",
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
}

// Download is an open file ready to be streamed
type Download struct {
	File        *os.File
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Service provides the file API operations
type Service struct {
	store            storage.FileStorage
	smallUploadLimit int64
	now              func() time.Time
}

// NewService creates a file service. Single-request uploads larger than
// smallUploadLimit are rejected.
func NewService(store storage.FileStorage, smallUploadLimit int64) *Service {
	return &Service{
		store:            store,
		smallUploadLimit: smallUploadLimit,
		now:              time.Now,
	}
}

// Upload stores a small file in a single request. The name never replaces
// an existing file.
func (s *Service) Upload(ctx context.Context, dir, name string, size int64, content io.Reader) (*storage.StoredFile, error) {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return nil, apperr.Validation("no file uploaded")
	}
	if size == 0 {
		return nil, apperr.Validation("no file uploaded")
	}
	if s.smallUploadLimit > 0 && size > s.smallUploadLimit {
		return nil, apperr.Validation("file exceeds the %d byte limit, use the chunked upload API", s.smallUploadLimit)
	}

	reader := content
	if s.smallUploadLimit > 0 {
		reader = io.LimitReader(content, s.smallUploadLimit+1)
	}

	stored, err := s.store.Store(ctx, dir, name, reader)
	if err != nil {
		return nil, err
	}
	if s.smallUploadLimit > 0 && stored.Size > s.smallUploadLimit {
		if err := s.store.DeleteFile(ctx, stored.Path); err != nil {
			log.Warn().Err(err).Str("path", stored.Path).Msg("failed to remove oversized upload")
		}
		return nil, apperr.Validation("file exceeds the %d byte limit, use the chunked upload API", s.smallUploadLimit)
	}
	if stored.Size == 0 {
		s.store.DeleteFile(ctx, stored.Path)
		return nil, apperr.Validation("no file uploaded")
	}

	log.Info().
		Str("file", stored.Name).
		Str("path", stored.Path).
		Int64("size", stored.Size).
		Msg("file uploaded")
	return stored, nil
}

// Open prepares a stored file for download
func (s *Service) Open(ctx context.Context, filePath string) (*Download, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, apperr.Validation("file path is required")
	}

	file, info, err := s.store.Open(ctx, filePath)
	if err != nil {
		return nil, err
	}

	contentType, err := detectContentType(file, info.Name())
	if err != nil {
		file.Close()
		return nil, apperr.IO("detect content type", err)
	}

	log.Info().
		Str("path", filePath).
		Int64("size", info.Size()).
		Str("content_type", contentType).
		Msg("file download started")

	return &Download{
		File:        file,
		Name:        info.Name(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: contentType,
	}, nil
}

// List returns the entries of dir sorted by name. With a search query the
// whole subtree is searched and names match when they contain the query,
// ignoring case and spaces.
func (s *Service) List(ctx context.Context, dir, query string) ([]storage.Entry, error) {
	needle := normalizeForSearch(query)

	entries, err := s.store.Walk(ctx, dir, needle != "")
	if err != nil {
		return nil, err
	}

	if needle != "" {
		matched := entries[:0]
		for _, e := range entries {
			if strings.Contains(normalizeForSearch(e.Name), needle) {
				matched = append(matched, e)
			}
		}
		entries = matched
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	log.Debug().
		Str("dir", dir).
		Str("query", query).
		Int("count", len(entries)).
		Msg("directory listed")
	return entries, nil
}

// Recent returns files modified within RecentWindow, newest first
func (s *Service) Recent(ctx context.Context) ([]storage.Entry, error) {
	entries, err := s.store.Walk(ctx, "", true)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-RecentWindow)
	recent := make([]storage.Entry, 0)
	for _, e := range entries {
		if e.Type == "file" && !e.LastModified.Before(cutoff) {
			recent = append(recent, e)
		}
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].LastModified.After(recent[j].LastModified)
	})
	return recent, nil
}

// MakeDir creates a directory; it is a conflict if it already exists
func (s *Service) MakeDir(ctx context.Context, dirPath string) error {
	if strings.TrimSpace(dirPath) == "" {
		return apperr.Validation("path is required")
	}
	return s.store.MakeDir(ctx, dirPath)
}

// DeleteDir removes a directory recursively
func (s *Service) DeleteDir(ctx context.Context, dirPath string) error {
	if strings.TrimSpace(dirPath) == "" {
		return apperr.Validation("path is required")
	}
	return s.store.DeleteDir(ctx, dirPath)
}

// DeleteFile removes a single file
func (s *Service) DeleteFile(ctx context.Context, filePath string) error {
	if strings.TrimSpace(filePath) == "" {
		return apperr.Validation("path is required")
	}
	return s.store.DeleteFile(ctx, filePath)
}

// Rename gives a file or directory a new path
func (s *Service) Rename(ctx context.Context, oldPath, newPath string) error {
	if oldPath == "" || newPath == "" {
		return apperr.Validation("source and new paths are required")
	}
	return s.store.Move(ctx, oldPath, newPath)
}

// Move relocates a file or directory. A destination that names an existing
// directory receives the source under its own name.
func (s *Service) Move(ctx context.Context, sourcePath, destinationPath string) error {
	if sourcePath == "" || destinationPath == "" {
		return apperr.Validation("source and destination paths are required")
	}

	if info, err := s.store.Stat(ctx, destinationPath); err == nil && info.IsDir() {
		destinationPath = path.Join(filepath.ToSlash(destinationPath), path.Base(filepath.ToSlash(sourcePath)))
	}
	return s.store.Move(ctx, sourcePath, destinationPath)
}

func normalizeForSearch(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// detectContentType prefers the extension table and falls back to sniffing
// the file header. The file offset is restored afterwards.
func detectContentType(file *os.File, name string) (string, error) {
	if contentType, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return contentType, nil
	}

	detected, err := mimetype.DetectReader(file)
	if err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return detected.String(), nil
}
