package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/notify"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/rs/zerolog/log"
)

// SubmitChunk admits one chunk of a session. The payload is streamed to a
// private file outside the session lock so distinct chunks are written in
// parallel; only the rename and descriptor update are serialized. The chunk
// that completes the set triggers assembly before the call returns.
func (m *Manager) SubmitChunk(ctx context.Context, id string, index int, payload io.Reader) (*ChunkResult, error) {
	startTime := time.Now()

	if m.registry.finalizing(id) {
		return nil, apperr.NotFound("upload session %s", id)
	}

	e := m.registry.lock(id)
	d, dir, err := m.checkAdmission(e, id, index)
	e.mu.Unlock()
	if err != nil {
		if errors.Is(err, apperr.ErrPaused) {
			io.Copy(io.Discard, payload)
		}
		return nil, err
	}

	tmpName, size, err := writeChunkPayload(dir, d, index, payload)
	if err != nil {
		return nil, err
	}

	out, err := m.commitChunk(ctx, id, index, tmpName, size, startTime)
	m.announce(ctx, out)
	if err != nil {
		return nil, err
	}
	return out.result, nil
}

// commitChunk moves a written payload into place and updates the
// descriptor under the session lock. Notifications are collected in the
// returned outcome and sent by the caller after the lock is released.
func (m *Manager) commitChunk(ctx context.Context, id string, index int, tmpName string, size int64, startTime time.Time) (outcome, error) {
	e := m.registry.lock(id)
	defer e.mu.Unlock()

	// The session may have been paused, stopped or completed meanwhile
	d, dir, err := m.checkAdmission(e, id, index)
	if err != nil {
		os.Remove(tmpName)
		return outcome{}, err
	}

	if err := os.Rename(tmpName, filepath.Join(dir, chunkFileName(index))); err != nil {
		os.Remove(tmpName)
		if errors.Is(err, os.ErrNotExist) {
			return outcome{}, apperr.NotFound("upload session %s", id)
		}
		log.Error().Err(err).Str("upload_id", id).Int("chunk", index).Msg("failed to store chunk")
		return outcome{}, apperr.IO("store chunk", err)
	}

	added := d.AddChunk(index)
	if err := m.registry.save(dir, d); err != nil {
		log.Error().Err(err).Str("upload_id", id).Int("chunk", index).Msg("failed to persist descriptor")
		return outcome{}, err
	}

	log.Debug().
		Str("upload_id", id).
		Int("chunk", index).
		Int64("size", size).
		Bool("new", added).
		Int("uploaded", len(d.UploadedChunks)).
		Int("total", d.ExpectedChunks).
		Dur("duration", time.Since(startTime)).
		Msg("chunk accepted")

	if d.Complete() {
		return m.finalize(ctx, e, d, dir)
	}

	return outcome{
		result: &ChunkResult{
			Status:         types.StatusInProgress,
			UploadedChunks: d.Chunks(),
		},
		events: []notify.Event{notify.Progress(id, d.FileName, len(d.UploadedChunks), d.ExpectedChunks)},
	}, nil
}

// checkAdmission applies the admission preconditions in order: the session
// exists and was not already assembled, is not paused, is not being assembled, and the index is in range.
// The caller holds the session lock.
func (m *Manager) checkAdmission(e *entry, id string, index int) (*Descriptor, string, error) {
	if _, done := m.lookupCompleted(id); done {
		return nil, "", apperr.NotFound("upload session %s", id)
	}
	d, dir, err := m.registry.load(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			m.registry.forget(id)
		}
		return nil, "", err
	}
	if d.Paused {
		return nil, "", apperr.Paused("upload session %s is paused", id)
	}
	if e.finalizing.Load() {
		return nil, "", apperr.NotFound("upload session %s", id)
	}
	if index < 0 || index >= d.ExpectedChunks {
		return nil, "", apperr.Validation("chunk index %d out of range [0, %d)", index, d.ExpectedChunks)
	}
	return d, dir, nil
}

// writeChunkPayload streams payload into a private file in the session
// directory and enforces 0 < size <= chunkSize
func writeChunkPayload(dir string, d *Descriptor, index int, payload io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(dir, chunkFileName(index)+".part-*")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, apperr.NotFound("upload session %s", d.ID)
		}
		return "", 0, apperr.IO("create chunk file", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(payload, d.ChunkSize+1))
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, apperr.NotFound("upload session %s", d.ID)
		}
		log.Error().Err(err).Str("upload_id", d.ID).Int("chunk", index).Msg("failed to write chunk payload")
		return "", 0, apperr.IO("write chunk", err)
	}

	if n == 0 {
		os.Remove(tmpName)
		return "", 0, apperr.Validation("chunk %d is empty", index)
	}
	if n > d.ChunkSize {
		os.Remove(tmpName)
		return "", 0, apperr.Validation("chunk %d exceeds the chunk size of %d bytes", index, d.ChunkSize)
	}
	return tmpName, n, nil
}
