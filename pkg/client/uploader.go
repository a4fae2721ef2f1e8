package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/lgulliver/strongbox/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUploadStopped is returned after Stop aborted an upload
	ErrUploadStopped = errors.New("upload stopped")

	// ErrRetriesExhausted wraps the last failure once MaxRetries is used up
	ErrRetriesExhausted = errors.New("upload retries exhausted")
)

// Default orchestration settings
const (
	DefaultChunkSize  = 3 << 20
	DefaultWindow     = 3
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultPauseWait  = time.Second

	// stopWait bounds how long Upload waits for a concurrent Stop to remove
	// the server session before returning
	stopWait = 10 * time.Second
)

// Progress is reported after every batch
type Progress struct {
	UploadID string
	Uploaded int
	Total    int
	Fraction float64
}

// Result describes a finished upload
type Result struct {
	UploadID string
	FileName string
	Size     int64
	Chunks   int
}

// Options tune an Uploader. Zero values select the defaults. MaxRetries is
// the number of attempts of the whole batch loop.
type Options struct {
	ChunkSize        int64
	Window           int
	MaxRetries       int
	BaseDelay        time.Duration
	PauseWait        time.Duration
	OnProgress       func(Progress)
	SkipVersionCheck bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.PauseWait <= 0 {
		o.PauseWait = DefaultPauseWait
	}
	return o
}

// Uploader drives one resumable upload. Pause, Resume and Stop may be
// called from other goroutines while Upload runs.
type Uploader struct {
	client *Client
	opts   Options

	mu       sync.Mutex
	uploadID string
	paused   bool
	stopped  bool
	wake     chan struct{}
	stopCh   chan struct{}
	stopDone chan struct{}
	cancel   context.CancelFunc
}

// NewUploader creates an uploader using client
func NewUploader(client *Client, opts Options) *Uploader {
	return &Uploader{
		client:   client,
		opts:     opts.withDefaults(),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		stopDone: make(chan struct{}),
	}
}

// UploadID returns the server session id once Upload has opened it
func (u *Uploader) UploadID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploadID
}

// Paused reports the local pause flag
func (u *Uploader) Paused() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.paused
}

// Pause stops new batches from starting and pauses the server session
func (u *Uploader) Pause(ctx context.Context) error {
	return u.setPause(ctx, true)
}

// Resume lets batches start again
func (u *Uploader) Resume(ctx context.Context) error {
	return u.setPause(ctx, false)
}

func (u *Uploader) setPause(ctx context.Context, paused bool) error {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return ErrUploadStopped
	}
	// Pausing takes effect locally at once; resuming waits for the server
	// so the next batch is not rejected.
	if paused {
		u.paused = true
	}
	id := u.uploadID
	u.mu.Unlock()

	if id != "" {
		if _, err := u.client.SetPause(ctx, id, paused); err != nil {
			return fmt.Errorf("failed to set pause on %s: %w", id, err)
		}
	}

	if !paused {
		u.mu.Lock()
		u.paused = false
		u.mu.Unlock()
		u.signal()
	}
	return nil
}

// Stop aborts the upload, cancels in-flight chunks and removes the server
// session. Upload returns ErrUploadStopped once the session is removed.
func (u *Uploader) Stop(ctx context.Context) error {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return nil
	}
	u.stopped = true
	close(u.stopCh)
	cancel := u.cancel
	id := u.uploadID
	u.mu.Unlock()
	defer close(u.stopDone)

	if cancel != nil {
		cancel()
	}
	if id == "" {
		return nil
	}
	if err := u.client.Stop(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("failed to stop %s: %w", id, err)
	}
	return nil
}

// stoppedErr waits, bounded by stopWait and ctx, for the Stop call that
// ended the upload to reach the server, then returns ErrUploadStopped
func (u *Uploader) stoppedErr(ctx context.Context) error {
	timer := time.NewTimer(stopWait)
	defer timer.Stop()
	select {
	case <-u.stopDone:
	case <-timer.C:
		log.Warn().Str("upload_id", u.UploadID()).Msg("gave up waiting for the upload session to be stopped")
	case <-ctx.Done():
	}
	return ErrUploadStopped
}

func (u *Uploader) isStopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

func (u *Uploader) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Upload sends size bytes from src as directory/fileName
func (u *Uploader) Upload(ctx context.Context, src io.ReaderAt, size int64, directory, fileName string) (*Result, error) {
	if !u.opts.SkipVersionCheck {
		if err := u.client.CheckVersion(ctx); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return nil, u.stoppedErr(ctx)
	}
	u.cancel = cancel
	u.mu.Unlock()

	id, err := u.client.InitUpload(runCtx, types.InitUploadRequest{
		Directory: directory,
		FileName:  fileName,
		TotalSize: size,
		ChunkSize: u.opts.ChunkSize,
	})
	if err != nil {
		if u.isStopped() {
			return nil, u.stoppedErr(ctx)
		}
		return nil, err
	}

	u.mu.Lock()
	u.uploadID = id
	stopped := u.stopped
	paused := u.paused
	u.mu.Unlock()

	if stopped {
		// Stop ran before the session existed
		if err := u.client.Stop(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Err(err).Str("upload_id", id).Msg("failed to stop upload session")
		}
		return nil, ErrUploadStopped
	}
	if paused {
		if _, err := u.client.SetPause(runCtx, id, true); err != nil {
			log.Warn().Err(err).Str("upload_id", id).Msg("failed to pause new upload session")
		}
	}

	run := &uploadRun{
		uploader: u,
		id:       id,
		src:      src,
		size:     size,
		total:    int(utils.CeilDiv(size, u.opts.ChunkSize)),
		uploaded: make(map[int]bool),
	}

	log.Info().
		Str("upload_id", id).
		Str("file", fileName).
		Int64("size", size).
		Int("chunks", run.total).
		Msg("upload started")

	retries := 0
	for {
		fileName, err := run.loop(runCtx)
		if err == nil {
			log.Info().Str("upload_id", id).Str("stored_as", fileName).Msg("upload completed")
			return &Result{UploadID: id, FileName: fileName, Size: size, Chunks: run.total}, nil
		}
		if u.isStopped() || errors.Is(err, ErrUploadStopped) {
			return nil, u.stoppedErr(ctx)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		retries++
		if retries >= u.opts.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, retries, err)
		}

		delay := time.Duration(retries) * u.opts.BaseDelay
		log.Warn().Err(err).Str("upload_id", id).Int("retry", retries).Dur("delay", delay).Msg("upload failed, retrying")
		if err := u.sleep(runCtx, delay); err != nil {
			if errors.Is(err, ErrUploadStopped) {
				return nil, u.stoppedErr(ctx)
			}
			return nil, err
		}
	}
}

// sleep waits for d unless the upload is stopped or ctx ends
func (u *Uploader) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-u.stopCh:
		return ErrUploadStopped
	case <-ctx.Done():
		if u.isStopped() {
			return ErrUploadStopped
		}
		return ctx.Err()
	}
}

// waitWhilePaused blocks while the local pause flag is set. Each wait is
// bounded by PauseWait and ends early on Resume or Stop.
func (u *Uploader) waitWhilePaused(ctx context.Context) error {
	for {
		u.mu.Lock()
		paused, stopped := u.paused, u.stopped
		u.mu.Unlock()

		if stopped {
			return ErrUploadStopped
		}
		if !paused {
			return nil
		}

		timer := time.NewTimer(u.opts.PauseWait)
		select {
		case <-u.wake:
		case <-timer.C:
		case <-u.stopCh:
			timer.Stop()
			return ErrUploadStopped
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// uploadRun holds the state of one Upload call across retries
type uploadRun struct {
	uploader *Uploader
	id       string
	src      io.ReaderAt
	size     int64
	total    int

	mu       sync.Mutex
	uploaded map[int]bool
	fileName string
	done     bool
}

// loop uploads batches until the server reports completion
func (r *uploadRun) loop(ctx context.Context) (string, error) {
	u := r.uploader
	for {
		if name, ok := r.completed(); ok {
			return name, nil
		}
		if err := u.waitWhilePaused(ctx); err != nil {
			return "", err
		}

		batch := r.nextBatch(u.opts.Window)
		if len(batch) == 0 {
			// Every chunk is on the server but no completion was seen,
			// e.g. assembly failed earlier. Ask for it explicitly.
			resp, err := u.client.Complete(ctx, r.id)
			if err != nil {
				return "", err
			}
			r.markCompleted(resp.FileName)
			continue
		}

		err := r.sendBatch(ctx, batch)
		if u.isStopped() {
			return "", ErrUploadStopped
		}
		if name, ok := r.completed(); ok {
			return name, nil
		}
		if err != nil && !errors.Is(err, apperr.ErrPaused) {
			return "", err
		}
		if err != nil {
			// Paused by someone else; wait before the next attempt
			if err := u.sleep(ctx, u.opts.PauseWait); err != nil {
				return "", err
			}
		}

		if err := r.reconcile(ctx); err != nil {
			return "", err
		}
	}
}

func (r *uploadRun) sendBatch(ctx context.Context, batch []int) error {
	u := r.uploader
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Window)

	for _, index := range batch {
		index := index
		g.Go(func() error {
			offset := int64(index) * u.opts.ChunkSize
			length := u.opts.ChunkSize
			if offset+length > r.size {
				length = r.size - offset
			}

			resp, err := u.client.UploadChunk(gctx, r.id, index, io.NewSectionReader(r.src, offset, length))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", index, err)
			}

			if resp.Status == types.StatusCompleted {
				r.markCompleted(resp.FileName)
				return nil
			}
			r.mu.Lock()
			r.uploaded[index] = true
			r.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// reconcile replaces the local chunk set with the server's
func (r *uploadRun) reconcile(ctx context.Context) error {
	status, err := r.uploader.client.Status(ctx, r.id)
	if err != nil {
		return err
	}
	if status.Status == types.StatusCompleted {
		r.markCompleted(status.FileName)
		return nil
	}

	r.mu.Lock()
	r.uploaded = make(map[int]bool, len(status.UploadedChunks))
	for _, index := range status.UploadedChunks {
		r.uploaded[index] = true
	}
	uploaded := len(r.uploaded)
	r.mu.Unlock()

	r.report(uploaded)
	return nil
}

func (r *uploadRun) nextBatch(window int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make([]int, 0, window)
	for i := 0; i < r.total && len(batch) < window; i++ {
		if !r.uploaded[i] {
			batch = append(batch, i)
		}
	}
	return batch
}

func (r *uploadRun) markCompleted(fileName string) {
	r.mu.Lock()
	first := !r.done
	if first {
		r.done = true
		r.fileName = fileName
	}
	r.mu.Unlock()
	if first {
		r.report(r.total)
	}
}

func (r *uploadRun) completed() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileName, r.done
}

func (r *uploadRun) report(uploaded int) {
	if r.uploader.opts.OnProgress == nil {
		return
	}
	var fraction float64
	if r.total > 0 {
		fraction = float64(uploaded) / float64(r.total)
	}
	r.uploader.opts.OnProgress(Progress{
		UploadID: r.id,
		Uploaded: uploaded,
		Total:    r.total,
		Fraction: fraction,
	})
}
