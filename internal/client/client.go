// Package client is the embedded upload/download client: it drives
// internal/copyengine between a local file and a remote ticket-scoped
// image, the way a migration tool or CLI embeds this core rather than
// talking to it over HTTP (spec.md §4.3's engine, used directly instead
// of through the transfer service), grounded on the worker-dispatch shape
// of ec/getxaction.go and downloader/single.go's retrying connect loop.

package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/copyengine"
	"github.com/ovirt/imageio-core/internal/stats"
)

// ChunkSource lets a caller hand the engine a sparse-upload plan (e.g. from
// `qemu-img map`) instead of relying on the source's own extent map;
// left unimplemented (DESIGN.md Open Question #1) -- the engine always
// consults the source backend's extent map in this core. Declaring the
// interface here keeps the extension point named for a future release
// without committing to its wire shape today.
type ChunkSource interface {
	// Chunks returns the ranges that must be copied, in ascending,
	// non-overlapping order.
	Chunks(ctx context.Context) ([]Chunk, error)
}

// Chunk is one planned copy range.
type Chunk struct {
	Start, Length int64
}

// Options configures one Upload or Download call.
type Options struct {
	// MaxWorkers, QueueSize, BufferSize, MaxCopySize, MaxZeroSize tune the
	// underlying copyengine.Engine; zero values take copyengine's own
	// defaults.
	MaxWorkers  int
	QueueSize   int
	BufferSize  int
	MaxCopySize int64
	MaxZeroSize int64
	// Zero mirrors copyengine.Options.Zero: materialize zero/hole extents
	// on the destination instead of skipping them.
	Zero bool
	// Progress, when non-nil, is called with cumulative bytes transferred.
	Progress func(transferred int64)
	// DialTimeout bounds a single connection attempt; DialRetries bounds
	// the total retry budget (spec.md §9 "remote connect retries").
	DialTimeout  time.Duration
	DialRetries  uint64
	HTTPCAFile   string
	Clock        stats.Timer
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 30 * time.Second
	}
	if o.DialRetries == 0 {
		o.DialRetries = 5
	}
	if o.Clock == nil {
		o.Clock = stats.NullClock{}
	}
	return o
}

// Upload copies localPath into the image named by ticketURL (an https://
// proxy URL naming a ticket-scoped remote image). The file backend reports
// the whole local file as a single data extent, so every byte is copied;
// holes in the local file are not skipped.
func Upload(ctx context.Context, localPath string, ticketURL string, opts Options) error {
	return run(ctx, localPath, ticketURL, false, opts)
}

// Download copies the image named by ticketURL into localPath.
func Download(ctx context.Context, localPath string, ticketURL string, opts Options) error {
	return run(ctx, localPath, ticketURL, true, opts)
}

func run(ctx context.Context, localPath, ticketURL string, download bool, opts Options) error {
	opts = opts.withDefaults()

	u, err := url.Parse(ticketURL)
	if err != nil {
		return fmt.Errorf("client: invalid ticket url %q: %w", ticketURL, err)
	}

	var src, dst copyengine.Opener
	if download {
		src = remoteOpener(u, false, opts)
		dst = fileOpener(localPath, true)
	} else {
		src = fileOpener(localPath, false)
		dst = remoteOpener(u, true, opts)
	}

	// Probe once up front so a bad path or an unreachable remote fails
	// before any worker is spawned, and so an empty source returns early
	// without starting the engine.
	probe, err := src()
	if err != nil {
		return err
	}
	size, err := probe.Size()
	probe.Close()
	if err != nil {
		return err
	}

	engine := copyengine.New(src, dst, copyengine.Options{
		Zero:        opts.Zero,
		MaxWorkers:  opts.MaxWorkers,
		QueueSize:   opts.QueueSize,
		BufferSize:  opts.BufferSize,
		MaxCopySize: opts.MaxCopySize,
		MaxZeroSize: opts.MaxZeroSize,
	}, progressTracker(opts.Progress), opts.Clock)

	extentSrc, err := src()
	if err != nil {
		return err
	}
	defer extentSrc.Close()

	if size == 0 {
		return nil
	}
	return engine.Run(ctx, extentSrc)
}

func progressTracker(cb func(int64)) copyengine.Progress {
	if cb == nil {
		return nil
	}
	var total int64
	return func(n int64) {
		total += n
		cb(total)
	}
}

func fileOpener(path string, writable bool) copyengine.Opener {
	return func() (backend.Backend, error) {
		return backend.OpenFile(path, writable, true)
	}
}

// remoteOpener dials the ticket URL with retry/backoff (spec.md §9): a
// proxy backend may be momentarily unreachable right after a transfer is
// created, before the remote service has finished accepting connections.
func remoteOpener(u *url.URL, writable bool, opts Options) copyengine.Opener {
	return func() (backend.Backend, error) {
		return dialWithRetry(u, writable, opts)
	}
}

func dialWithRetry(u *url.URL, writable bool, opts Options) (backend.Backend, error) {
	httpClient, err := backend.NewHTTPClient(opts.DialTimeout, opts.HTTPCAFile)
	if err != nil {
		return nil, err
	}

	var b backend.Backend
	op := func() error {
		var dialErr error
		b, dialErr = backend.OpenHTTP(u, writable, httpClient)
		return dialErr
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.DialRetries)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("client: connecting to %s: %w", u.Redacted(), err)
	}
	return b, nil
}
