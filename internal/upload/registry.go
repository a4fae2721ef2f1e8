package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/pathguard"
	"github.com/rs/zerolog/log"
)

const (
	tombstonePrefix = ".stopped-"
	purgeAttempts   = 3
)

// entry serializes all descriptor mutations of one session
type entry struct {
	mu         sync.Mutex
	finalizing atomic.Bool
}

// Registry owns the session directories under the temp root and the
// per-session locks guarding them
type Registry struct {
	tempRoot string
	guard    *pathguard.Guard
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry rooted at tempRoot, which must be one of
// the guard's roots
func NewRegistry(tempRoot string, guard *pathguard.Guard) (*Registry, error) {
	if err := os.MkdirAll(tempRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp root: %w", err)
	}
	canonical, err := guard.Check(tempRoot)
	if err != nil {
		return nil, fmt.Errorf("temp root is not confined: %w", err)
	}

	return &Registry{
		tempRoot: canonical,
		guard:    guard,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}, nil
}

// TempRoot returns the canonical temp root
func (r *Registry) TempRoot() string {
	return r.tempRoot
}

// sessionDir maps an id to its directory. Anything that is not a uuid can
// never name a session and is NotFound.
func (r *Registry) sessionDir(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return "", apperr.NotFound("upload session %s", id)
	}
	dir, err := r.guard.Resolve(r.tempRoot, id)
	if err != nil {
		return "", err
	}
	if !pathguard.IsWithin(dir, r.tempRoot) || dir == r.tempRoot {
		return "", apperr.InvalidPath("session %s resolves outside the temp root", id)
	}
	return dir, nil
}

// create allocates a new session and persists its descriptor. On failure
// nothing is left on disk.
func (r *Registry) create(ctx context.Context, directory, fileName string, totalSize, chunkSize int64) (*Descriptor, error) {
	expected, err := ChunkCount(totalSize, chunkSize)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	dir, err := r.sessionDir(id)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	d := &Descriptor{
		ID:             id,
		Directory:      directory,
		FileName:       fileName,
		TotalSize:      totalSize,
		ChunkSize:      chunkSize,
		ExpectedChunks: expected,
		UploadedChunks: []int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := os.Mkdir(dir, 0755); err != nil {
		log.Error().Err(err).Str("upload_id", id).Msg("failed to create session directory")
		return nil, apperr.IO("create session directory", err)
	}
	if err := writeDescriptor(dir, d); err != nil {
		os.RemoveAll(dir)
		log.Error().Err(err).Str("upload_id", id).Msg("failed to persist descriptor")
		return nil, apperr.IO("write descriptor", err)
	}

	return d, nil
}

// lock returns the locked entry for id. The caller must unlock it.
func (r *Registry) lock(id string) *entry {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	return e
}

// finalizing reports whether id is being assembled, without waiting for its
// lock
func (r *Registry) finalizing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return ok && e.finalizing.Load()
}

// forget drops the lock entry of a session whose directory is gone. A
// directory never comes back once removed, so late holders of the old entry
// only ever observe NotFound.
func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// load reads the descriptor of id; the caller holds the session lock
func (r *Registry) load(id string) (*Descriptor, string, error) {
	dir, err := r.sessionDir(id)
	if err != nil {
		return nil, "", err
	}
	d, err := readDescriptor(dir, id)
	if err != nil {
		return nil, "", err
	}
	return d, dir, nil
}

// save persists d; the caller holds the session lock
func (r *Registry) save(dir string, d *Descriptor) error {
	d.UpdatedAt = r.now().UTC()
	if err := writeDescriptor(dir, d); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.NotFound("upload session %s", d.ID)
		}
		return apperr.IO("write descriptor", err)
	}
	return nil
}

// remove retires the session directory; the caller holds the session lock.
// The directory is first renamed to a tombstone outside the uuid namespace,
// so writers still streaming a payload can no longer create files in it.
// A tombstone that cannot be deleted right away is left to the sweeper.
func (r *Registry) remove(id, dir string) error {
	tomb := filepath.Join(r.tempRoot, tombstonePrefix+id)
	os.RemoveAll(tomb)

	if err := os.Rename(dir, tomb); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.forget(id)
			return apperr.NotFound("upload session %s", id)
		}
		return apperr.IO("remove session directory", err)
	}
	r.forget(id)

	if err := purge(tomb); err != nil {
		log.Debug().Err(err).Str("upload_id", id).Msg("session tombstone left for the sweeper")
	}
	return nil
}

// tombstones lists retired session directories that are still on disk
func (r *Registry) tombstones() ([]string, error) {
	entries, err := os.ReadDir(r.tempRoot)
	if err != nil {
		return nil, apperr.IO("list sessions", err)
	}

	var tombs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), tombstonePrefix) {
			tombs = append(tombs, filepath.Join(r.tempRoot, e.Name()))
		}
	}
	return tombs, nil
}

// purge deletes dir, retrying briefly while late writes drain
func purge(dir string) error {
	var err error
	for attempt := 0; attempt < purgeAttempts; attempt++ {
		if err = os.RemoveAll(dir); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// ids lists the session directories currently on disk
func (r *Registry) ids() ([]string, error) {
	entries, err := os.ReadDir(r.tempRoot)
	if err != nil {
		return nil, apperr.IO("list sessions", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// lastActivity returns the descriptor's updatedAt, or the directory's
// modification time when the descriptor cannot be read
func (r *Registry) lastActivity(id string) (time.Time, bool) {
	d, dir, err := r.load(id)
	if err == nil {
		return d.UpdatedAt, true
	}
	if dir == "" {
		dir = filepath.Join(r.tempRoot, id)
	}
	info, statErr := os.Stat(dir)
	if statErr != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
