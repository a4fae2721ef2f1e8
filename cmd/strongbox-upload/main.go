package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lgulliver/strongbox/pkg/client"
	"github.com/lgulliver/strongbox/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		server    = flag.String("server", envOr("STRONGBOX_URL", "http://localhost:8080"), "Server base URL")
		apiKey    = flag.String("key", os.Getenv("STRONGBOX_API_KEY"), "Shared secret (defaults to $STRONGBOX_API_KEY)")
		directory = flag.String("dir", "", "Destination directory below the storage root")
		name      = flag.String("name", "", "Destination file name (defaults to the local name)")
		chunkSize = flag.Int64("chunk-size", client.DefaultChunkSize, "Chunk size in bytes")
		window    = flag.Int("window", client.DefaultWindow, "Concurrent chunk uploads")
		retries   = flag.Int("retries", client.DefaultMaxRetries, "Attempts before giving up")
		useToken  = flag.Bool("token", false, "Exchange the secret for a bearer token")
		checksum  = flag.Bool("checksum", false, "Print the SHA-256 of the local file")
		verbose   = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if flag.NArg() != 1 || *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "A shared secret is required via -key or STRONGBOX_API_KEY.")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *server, *apiKey, *directory, *name, *chunkSize, *window, *retries, *useToken, *checksum); err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		if errors.Is(err, client.ErrUploadStopped) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func run(path, server, apiKey, directory, name string, chunkSize int64, window, retries int, useToken, checksum bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if name == "" {
		name = filepath.Base(path)
	}

	var opts []client.Option
	if useToken {
		opts = append(opts, client.WithTokenAuth())
	}
	c := client.New(server, apiKey, opts...)

	started := time.Now()
	uploader := client.NewUploader(c, client.Options{
		ChunkSize:  chunkSize,
		Window:     window,
		MaxRetries: retries,
		OnProgress: func(p client.Progress) {
			sent := int64(p.Uploaded) * chunkSize
			if sent > info.Size() {
				sent = info.Size()
			}
			fmt.Fprintf(os.Stderr, "\r%5.1f%%  %s / %s  (%d/%d chunks)",
				p.Fraction*100, utils.FormatBytes(sent), utils.FormatBytes(info.Size()), p.Uploaded, p.Total)
		},
	})

	// First interrupt stops the upload and removes the server session
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	done := make(chan struct{})
	defer close(done)
	go stopOnSignal(signals, done, uploader.Stop)

	result, err := uploader.Upload(context.Background(), file, info.Size(), directory, name)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Printf("uploaded %s as %s (%s in %s)\n",
		path, result.FileName, utils.FormatBytes(result.Size), time.Since(started).Round(time.Millisecond))

	if checksum {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		sum, err := utils.ComputeSHA256FromReader(file)
		if err != nil {
			return err
		}
		fmt.Printf("sha256 %s\n", sum)
	}
	return nil
}

// stopOnSignal calls stop on the first signal. It returns after handling a
// signal or once done is closed.
func stopOnSignal(signals <-chan os.Signal, done <-chan struct{}, stop func(context.Context) error) {
	select {
	case <-signals:
		fmt.Fprintln(os.Stderr, "\nstopping...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stop(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to stop upload session")
		}
	case <-done:
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
