// Package upload implements the server side of the resumable chunked upload
// protocol: session registry, chunk admission, pause/stop control and
// one-time assembly of the final file.
package upload

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/notify"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/rs/zerolog/log"
)

// Recorder stores a history entry for every assembled upload
type Recorder interface {
	Record(ctx context.Context, record *types.TransferRecord) error
}

// Options tune the manager
type Options struct {
	MaxChunkSize  int64
	SessionTTL    time.Duration
	SweepInterval time.Duration
	CompletedTTL  time.Duration
}

// ChunkResult is the outcome of an accepted chunk
type ChunkResult struct {
	Status         string
	UploadedChunks []int
	FileName       string
	Path           string
}

// Status describes a session for the status endpoint
type Status struct {
	FileName       string
	TotalSize      int64
	ChunkSize      int64
	TotalChunks    int
	UploadedChunks []int
	Paused         bool
	Status         string
}

type completedUpload struct {
	fileName  string
	path      string
	totalSize int64
	chunks    int
	at        time.Time
}

// Manager is the entry point used by the HTTP layer
type Manager struct {
	opts      Options
	registry  *Registry
	dest      Destination
	assembler *Assembler
	events    notify.Publisher
	history   Recorder
	now       func() time.Time

	completedMu sync.Mutex
	completed   map[string]completedUpload
}

// NewManager wires the upload components. events and history may be nil.
func NewManager(opts Options, registry *Registry, dest Destination, events notify.Publisher, history Recorder) *Manager {
	if events == nil {
		events = notify.Nop{}
	}
	return &Manager{
		opts:      opts,
		registry:  registry,
		dest:      dest,
		assembler: NewAssembler(dest),
		events:    events,
		history:   history,
		now:       time.Now,
		completed: make(map[string]completedUpload),
	}
}

// Init validates the request and creates a new session
func (m *Manager) Init(ctx context.Context, directory, fileName string, totalSize, chunkSize int64) (*Descriptor, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, apperr.Validation("fileName is required")
	}
	if totalSize <= 0 {
		return nil, apperr.Validation("totalSize must be positive, got %d", totalSize)
	}
	if chunkSize <= 0 {
		return nil, apperr.Validation("chunkSize must be positive, got %d", chunkSize)
	}
	if m.opts.MaxChunkSize > 0 && chunkSize > m.opts.MaxChunkSize {
		return nil, apperr.Validation("chunkSize %d exceeds the maximum of %d", chunkSize, m.opts.MaxChunkSize)
	}
	if path.Base(fileName) != fileName || strings.ContainsAny(fileName, `/\`) || fileName == "." || fileName == ".." {
		return nil, apperr.InvalidPath("fileName %q must be a plain file name", fileName)
	}

	directory = path.Clean(strings.ReplaceAll(directory, `\`, "/"))
	if directory == "." {
		directory = ""
	}
	if _, err := m.dest.Resolve(directory); err != nil {
		return nil, err
	}
	if _, err := m.dest.Resolve(path.Join(directory, fileName)); err != nil {
		return nil, err
	}

	d, err := m.registry.create(ctx, directory, fileName, totalSize, chunkSize)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("upload_id", d.ID).
		Str("destination", d.Destination()).
		Int64("total_size", totalSize).
		Int64("chunk_size", chunkSize).
		Int("chunks", d.ExpectedChunks).
		Msg("upload session created")

	m.events.Publish(ctx, notify.Progress(d.ID, d.FileName, 0, d.ExpectedChunks))
	return d, nil
}

// Status reports the server's view of a session
func (m *Manager) Status(ctx context.Context, id string) (*Status, error) {
	if done, ok := m.lookupCompleted(id); ok {
		return &Status{
			FileName:       done.fileName,
			TotalSize:      done.totalSize,
			TotalChunks:    done.chunks,
			UploadedChunks: allChunks(done.chunks),
			Status:         types.StatusCompleted,
		}, nil
	}

	e := m.registry.lock(id)
	d, _, err := m.registry.load(id)
	e.mu.Unlock()
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Assembly may have finished while we waited for the lock
			if done, ok := m.lookupCompleted(id); ok {
				return &Status{
					FileName:       done.fileName,
					TotalSize:      done.totalSize,
					TotalChunks:    done.chunks,
					UploadedChunks: allChunks(done.chunks),
					Status:         types.StatusCompleted,
				}, nil
			}
			m.registry.forget(id)
		}
		return nil, err
	}

	status := types.StatusInProgress
	if d.Paused {
		status = types.StatusPaused
	}
	return &Status{
		FileName:       d.FileName,
		TotalSize:      d.TotalSize,
		ChunkSize:      d.ChunkSize,
		TotalChunks:    d.ExpectedChunks,
		UploadedChunks: d.Chunks(),
		Paused:         d.Paused,
		Status:         status,
	}, nil
}

// Complete runs assembly for a session whose chunks are all present. It is
// used to retry after a failed assembly.
func (m *Manager) Complete(ctx context.Context, id string) (*ChunkResult, error) {
	if done, ok := m.lookupCompleted(id); ok {
		return &ChunkResult{Status: types.StatusCompleted, FileName: done.fileName, Path: done.path}, nil
	}
	if m.registry.finalizing(id) {
		return nil, apperr.NotFound("upload session %s", id)
	}

	out, err := m.completeLocked(ctx, id)
	m.announce(ctx, out)
	if err != nil {
		return nil, err
	}
	return out.result, nil
}

func (m *Manager) completeLocked(ctx context.Context, id string) (outcome, error) {
	e := m.registry.lock(id)
	defer e.mu.Unlock()

	d, dir, err := m.registry.load(id)
	if err != nil {
		if done, ok := m.lookupCompleted(id); ok {
			return outcome{result: &ChunkResult{Status: types.StatusCompleted, FileName: done.fileName, Path: done.path}}, nil
		}
		return outcome{}, err
	}
	if !d.Complete() {
		return outcome{}, apperr.Validation("upload %s has %d of %d chunks", id, len(d.UploadedChunks), d.ExpectedChunks)
	}

	return m.finalize(ctx, e, d, dir)
}

// outcome carries the result of a locked operation together with the
// side effects that run once the session lock is released
type outcome struct {
	result *ChunkResult
	events []notify.Event
	record *types.TransferRecord
}

// announce records history and publishes events collected under the lock.
// Neither may fail the operation.
func (m *Manager) announce(ctx context.Context, out outcome) {
	if out.record != nil && m.history != nil {
		if err := m.history.Record(context.WithoutCancel(ctx), out.record); err != nil {
			log.Warn().Err(err).Str("upload_id", out.record.UploadID).Msg("failed to record transfer history")
		}
	}
	for _, event := range out.events {
		m.events.Publish(ctx, event)
	}
}

// finalize assembles a complete session; the caller holds the session lock
// and passes the outcome to announce after releasing it
func (m *Manager) finalize(ctx context.Context, e *entry, d *Descriptor, dir string) (outcome, error) {
	e.finalizing.Store(true)

	// A client that disconnects must not abort an assembly in progress
	stored, err := m.assembler.Assemble(context.WithoutCancel(ctx), d, dir)
	if err != nil {
		e.finalizing.Store(false)
		return outcome{events: []notify.Event{{
			Type:     notify.EventError,
			UploadID: d.ID,
			FileName: d.FileName,
			Message:  "assembly failed",
			Time:     m.now().UTC(),
		}}}, err
	}

	completedAt := m.now().UTC()
	m.rememberCompleted(d, stored.Name, stored.Path, completedAt)
	m.registry.forget(d.ID)

	return outcome{
		result: &ChunkResult{
			Status:   types.StatusCompleted,
			FileName: stored.Name,
			Path:     stored.Path,
		},
		record: &types.TransferRecord{
			UploadID:    d.ID,
			FileName:    stored.Name,
			StoredPath:  stored.Path,
			Size:        stored.Size,
			ChunkCount:  d.ExpectedChunks,
			SHA256:      stored.Checksum,
			StartedAt:   d.CreatedAt,
			CompletedAt: completedAt,
		},
		events: []notify.Event{{
			Type:           notify.EventComplete,
			UploadID:       d.ID,
			FileName:       stored.Name,
			UploadedChunks: d.ExpectedChunks,
			TotalChunks:    d.ExpectedChunks,
			Progress:       1,
			Time:           completedAt,
		}},
	}, nil
}

func (m *Manager) rememberCompleted(d *Descriptor, fileName, storedPath string, at time.Time) {
	m.completedMu.Lock()
	defer m.completedMu.Unlock()
	m.completed[d.ID] = completedUpload{
		fileName:  fileName,
		path:      storedPath,
		totalSize: d.TotalSize,
		chunks:    d.ExpectedChunks,
		at:        at,
	}
}

func (m *Manager) lookupCompleted(id string) (completedUpload, bool) {
	m.completedMu.Lock()
	defer m.completedMu.Unlock()

	done, ok := m.completed[id]
	if !ok {
		return completedUpload{}, false
	}
	if m.opts.CompletedTTL > 0 && m.now().Sub(done.at) > m.opts.CompletedTTL {
		delete(m.completed, id)
		return completedUpload{}, false
	}
	return done, true
}

func allChunks(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
