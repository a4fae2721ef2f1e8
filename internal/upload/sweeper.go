package upload

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Run removes stale sessions every SweepInterval until ctx is done
func (m *Manager) Run(ctx context.Context) {
	if m.opts.SweepInterval <= 0 || m.opts.SessionTTL <= 0 {
		return
	}

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep removes sessions that have seen no activity for SessionTTL, deletes
// leftover tombstones of stopped sessions and forgets expired completion
// entries. It returns the number of sessions
// removed.
func (m *Manager) Sweep(ctx context.Context) int {
	m.purgeCompleted()
	m.purgeTombstones()

	if m.opts.SessionTTL <= 0 {
		return 0
	}

	ids, err := m.registry.ids()
	if err != nil {
		log.Error().Err(err).Msg("failed to list upload sessions")
		return 0
	}

	expiry := m.now().Add(-m.opts.SessionTTL)
	removed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if m.registry.finalizing(id) {
			continue
		}
		if m.sweepOne(id, expiry) {
			removed++
		}
	}

	if removed > 0 {
		log.Info().Int("count", removed).Msg("cleaned up expired upload sessions")
	}
	return removed
}

func (m *Manager) sweepOne(id string, expiry time.Time) bool {
	e := m.registry.lock(id)
	defer e.mu.Unlock()

	last, ok := m.registry.lastActivity(id)
	if !ok || !last.Before(expiry) {
		return false
	}

	dir, err := m.registry.guard.Check(filepath.Join(m.registry.tempRoot, id))
	if err != nil || dir == m.registry.tempRoot {
		return false
	}
	if err := m.registry.remove(id, dir); err != nil {
		log.Warn().Err(err).Str("upload_id", id).Msg("failed to remove expired upload session")
		return false
	}

	log.Debug().Str("upload_id", id).Time("last_activity", last).Msg("removed expired upload session")
	return true
}

func (m *Manager) purgeCompleted() {
	m.completedMu.Lock()
	defer m.completedMu.Unlock()

	if m.opts.CompletedTTL <= 0 {
		return
	}
	now := m.now()
	for id, done := range m.completed {
		if now.Sub(done.at) > m.opts.CompletedTTL {
			delete(m.completed, id)
		}
	}
}

func (m *Manager) purgeTombstones() {
	tombs, err := m.registry.tombstones()
	if err != nil {
		log.Error().Err(err).Msg("failed to list stopped sessions")
		return
	}
	for _, tomb := range tombs {
		if err := purge(tomb); err != nil {
			log.Warn().Err(err).Str("path", tomb).Msg("failed to remove stopped session")
		}
	}
}
