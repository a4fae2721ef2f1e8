package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/storage"
	"github.com/rs/zerolog/log"
)

// Destination creates files in the permanent storage tree
type Destination interface {
	// Resolve confines a storage-relative path to the storage root
	Resolve(path string) (string, error)

	// Create opens a new file without overwriting an existing one
	Create(ctx context.Context, dir, name string) (*os.File, *storage.StoredFile, error)
}

// Assembler concatenates the chunk files of a complete session into the
// permanent storage tree
type Assembler struct {
	dest Destination
}

// NewAssembler creates an assembler writing into dest
func NewAssembler(dest Destination) *Assembler {
	return &Assembler{dest: dest}
}

// Assemble streams chunk_0..chunk_{n-1} into a new file and removes the
// session directory on success. On failure the partial output is removed and
// the session directory is left untouched, so the call can be repeated.
func (a *Assembler) Assemble(ctx context.Context, d *Descriptor, sessionDir string) (*storage.StoredFile, error) {
	startTime := time.Now()

	// Fail before creating the destination if a chunk went missing
	for i := 0; i < d.ExpectedChunks; i++ {
		if _, err := os.Stat(filepath.Join(sessionDir, chunkFileName(i))); err != nil {
			log.Error().Err(err).Str("upload_id", d.ID).Int("chunk", i).Msg("chunk file missing at assembly")
			return nil, apperr.IO("assemble", err)
		}
	}

	file, stored, err := a.dest.Create(ctx, d.Directory, d.FileName)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	written, err := a.copyChunks(ctx, io.MultiWriter(file, hasher), d, sessionDir)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(file.Name())
		log.Error().
			Err(err).
			Str("upload_id", d.ID).
			Str("destination", stored.Path).
			Msg("assembly failed, session kept for retry")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperr.IO("assemble", err)
	}

	stored.Size = written
	stored.Checksum = hex.EncodeToString(hasher.Sum(nil))

	if written != d.TotalSize {
		log.Warn().
			Str("upload_id", d.ID).
			Int64("expected", d.TotalSize).
			Int64("written", written).
			Msg("assembled size differs from declared total size")
	}

	// Without its descriptor the session can never be admitted or assembled
	// again, even if the directory outlives this call
	if err := os.Remove(filepath.Join(sessionDir, descriptorFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("upload_id", d.ID).Msg("failed to remove session descriptor")
	}
	if err := os.RemoveAll(sessionDir); err != nil {
		// The file is complete; a leftover directory is collected by the sweeper
		log.Warn().Err(err).Str("upload_id", d.ID).Msg("failed to remove session directory")
	}

	log.Info().
		Str("upload_id", d.ID).
		Str("path", stored.Path).
		Int("chunks", d.ExpectedChunks).
		Int64("size", written).
		Str("checksum", stored.Checksum).
		Dur("duration", time.Since(startTime)).
		Msg("upload assembled")

	return stored, nil
}

func (a *Assembler) copyChunks(ctx context.Context, w io.Writer, d *Descriptor, sessionDir string) (int64, error) {
	var total int64
	for i := 0; i < d.ExpectedChunks; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		chunk, err := os.Open(filepath.Join(sessionDir, chunkFileName(i)))
		if err != nil {
			return total, err
		}
		n, err := io.Copy(w, chunk)
		chunk.Close()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
