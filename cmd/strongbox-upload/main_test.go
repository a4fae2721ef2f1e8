package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStopOnSignal(t *testing.T) {
	t.Run("signal stops the upload", func(t *testing.T) {
		signals := make(chan os.Signal, 1)
		signals <- syscall.SIGINT

		stopped := false
		stopOnSignal(signals, make(chan struct{}), func(ctx context.Context) error {
			stopped = true
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return nil
		})
		assert.True(t, stopped)
	})

	t.Run("returns when the upload is done", func(t *testing.T) {
		done := make(chan struct{})
		returned := make(chan struct{})
		go func() {
			stopOnSignal(make(chan os.Signal), done, func(context.Context) error {
				t.Error("stop called without a signal")
				return nil
			})
			close(returned)
		}()

		close(done)
		select {
		case <-returned:
		case <-time.After(5 * time.Second):
			t.Fatal("signal watcher did not return")
		}
	})
}
