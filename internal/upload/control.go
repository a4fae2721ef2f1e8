package upload

import (
	"context"
	"errors"
	"os"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/notify"
	"github.com/rs/zerolog/log"
)

// SetPause sets or clears the session's pause flag. The flag is part of the
// descriptor, so it survives a restart.
func (m *Manager) SetPause(ctx context.Context, id string, paused bool) error {
	fileName, err := m.setPauseLocked(id, paused)
	if err != nil {
		return err
	}

	state := "resumed"
	if paused {
		state = "paused"
	}
	log.Info().Str("upload_id", id).Str("state", state).Msg("upload pause state changed")
	m.events.Publish(ctx, notify.Event{Type: notify.EventMessage, UploadID: id, FileName: fileName, Message: state, Time: m.now().UTC()})
	return nil
}

func (m *Manager) setPauseLocked(id string, paused bool) (string, error) {
	e := m.registry.lock(id)
	defer e.mu.Unlock()

	d, dir, err := m.registry.load(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			m.registry.forget(id)
		}
		return "", err
	}

	if d.Paused != paused {
		d.Paused = paused
		if err := m.registry.save(dir, d); err != nil {
			return "", err
		}
	}
	return d.FileName, nil
}

// Stop deletes the session directory and every chunk in it. It is not gated
// by the pause flag and cannot be undone: later calls for the id are
// NotFound.
func (m *Manager) Stop(ctx context.Context, id string) error {
	dir, err := m.registry.sessionDir(id)
	if err != nil {
		return err
	}

	if err := m.stopLocked(id, dir); err != nil {
		return err
	}

	log.Info().Str("upload_id", id).Msg("upload stopped")
	m.events.Publish(ctx, notify.Event{Type: notify.EventMessage, UploadID: id, Message: "stopped", Time: m.now().UTC()})
	return nil
}

func (m *Manager) stopLocked(id, dir string) error {
	e := m.registry.lock(id)
	defer e.mu.Unlock()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		m.registry.forget(id)
		return apperr.NotFound("upload session %s", id)
	}

	if err := m.registry.remove(id, dir); err != nil {
		log.Error().Err(err).Str("upload_id", id).Msg("failed to stop upload")
		return err
	}
	return nil
}
