// Package copyengine drives bulk data movement between two backends: a
// bounded worker pool fed by a single producer that enumerates the source
// extent map (spec.md §4.3), grounded on ec/getxaction.go's jogger pool
// (one goroutine per worker, a buffered work channel, a stop sentinel) and
// original_source's ops.py (Read/Write/Zero operation steps, chunked via
// MAX_STEP so progress is reported frequently).

package copyengine

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/extent"
	"github.com/ovirt/imageio-core/internal/logging"
	"github.com/ovirt/imageio-core/internal/stats"
)

// kind distinguishes the three request shapes fed to workers (spec.md
// §4.3 "Request types").
type kind int

const (
	reqCopy kind = iota
	reqZero
	reqStop
)

// request is one unit of work: a (start, length) range and what to do
// with it. stop carries no range; it is the per-worker shutdown sentinel.
type request struct {
	kind   kind
	start  int64
	length int64
}

// Options configures one engine run (spec.md §4.3 "Inputs").
type Options struct {
	// Dirty selects the dirty-bitmap extent context: only dirty extents
	// are copied, clean extents are skipped entirely (no zeroing).
	Dirty bool
	// Zero, when Dirty is false, controls whether zero/hole extents are
	// materialized on the destination via dst.Zero or merely skipped.
	Zero bool
	// MaxWorkers bounds pool concurrency; at least 1.
	MaxWorkers int
	// MaxCopySize and MaxZeroSize bound chunk length for data and zero
	// requests respectively, so progress is reported at a steady rate.
	MaxCopySize int64
	MaxZeroSize int64
	// QueueSize bounds the producer/worker channel; defaults to 32.
	QueueSize int
	// BufferSize is the read/write buffer each worker allocates.
	BufferSize int
}

func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 1
	}
	if o.MaxCopySize <= 0 {
		o.MaxCopySize = 128 * 1024 * 1024
	}
	if o.MaxZeroSize <= 0 {
		o.MaxZeroSize = 128 * 1024 * 1024
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 32
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 8 * 1024 * 1024
	}
	return o
}

// Opener produces one independent backend handle per worker; workers never
// share a backend instance (spec.md §4.3 "Workers each hold a cloned pair
// of source and destination backends").
type Opener func() (backend.Backend, error)

// Progress is invoked at least once per extent; the sum of all n across a
// run equals the image size exactly. Workers call it concurrently, so it
// must be safe for concurrent use.
type Progress func(n int64)

// Engine copies or zeroes an image from one backend to another.
type Engine struct {
	src, dst Opener
	opts     Options
	progress Progress
	clock    stats.Timer
}

// New builds an Engine. clock may be stats.NullClock{} when no timing is
// wanted; progress may be nil to discard progress updates.
func New(src, dst Opener, opts Options, progress Progress, clock stats.Timer) *Engine {
	if progress == nil {
		progress = func(int64) {}
	}
	if clock == nil {
		clock = stats.NullClock{}
	}
	return &Engine{src: src, dst: dst, opts: opts.withDefaults(), progress: progress, clock: clock}
}

// Run enumerates extentSrc's extent map under the configured context,
// dispatches COPY/ZERO requests to a bounded worker pool, and blocks until
// every byte of [0, size) has been accounted for or an error aborts the
// pool. The first worker (or producer) error is returned; all others are
// discarded once the pool is draining (spec.md §4.3 "the first error is
// re-raised to the caller").
func (e *Engine) Run(ctx context.Context, extentSrc backend.Backend) error {
	extCtx := backend.ContextZero
	if e.opts.Dirty {
		extCtx = backend.ContextDirty
	}
	it, err := extentSrc.Extents(extCtx)
	if err != nil {
		return err
	}

	queue := make(chan request, e.opts.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < e.opts.MaxWorkers; i++ {
		g.Go(func() error {
			return e.worker(gctx, queue)
		})
	}

	g.Go(func() error {
		defer close(queue)
		return e.produce(gctx, it, queue)
	})

	return g.Wait()
}

// produce walks the extent map, splitting each extent into bounded
// requests and skipping ranges that need no destination work (a clean
// extent in dirty mode, or a zero/hole extent when opts.Zero is false) —
// those still report progress so the sum covers the whole image.
func (e *Engine) produce(ctx context.Context, it backend.ExtentIterator, queue chan<- request) error {
	for {
		ext, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := e.produceExtent(ctx, ext, queue); err != nil {
			return err
		}
	}
	for i := 0; i < e.opts.MaxWorkers; i++ {
		select {
		case queue <- request{kind: reqStop}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) produceExtent(ctx context.Context, ext extent.Extent, queue chan<- request) error {
	if e.opts.Dirty {
		if ext.Kind != extent.Dirty {
			e.progress(ext.Length)
			return nil
		}
		return e.enqueueChunks(ctx, queue, reqCopy, ext, e.opts.MaxCopySize)
	}

	switch ext.Kind {
	case extent.Data:
		return e.enqueueChunks(ctx, queue, reqCopy, ext, e.opts.MaxCopySize)
	case extent.Zero, extent.Hole:
		if !e.opts.Zero {
			e.progress(ext.Length)
			return nil
		}
		return e.enqueueChunks(ctx, queue, reqZero, ext, e.opts.MaxZeroSize)
	default:
		return fmt.Errorf("copyengine: unexpected extent kind %s in zero context", ext.Kind)
	}
}

func (e *Engine) enqueueChunks(ctx context.Context, queue chan<- request, k kind, ext extent.Extent, maxLen int64) error {
	for _, c := range extent.SplitMaxLength(ext, maxLen) {
		select {
		case queue <- request{kind: k, start: c.Start, length: c.Length}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// worker owns one cloned (src, dst) backend pair for its entire lifetime,
// draining queue until it sees reqStop or the channel closes. On the way
// out it closes dst before src, so a failed flush surfaces before the
// source connection is torn down (spec.md §4.3). A dst.Close() error fails
// the transfer; a src.Close() error is logged and swallowed so it never
// masks the real result (spec.md §7 "Propagation policy").
func (e *Engine) worker(ctx context.Context, queue <-chan request) (err error) {
	src, err := e.src()
	if err != nil {
		return err
	}
	dst, err := e.dst()
	if err != nil {
		src.Close()
		return err
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := src.Close(); cerr != nil {
			logging.Warningf("copyengine: closing source: %v", cerr)
		}
	}()

	buf := make([]byte, e.opts.BufferSize)
	report := e.progress

	for {
		select {
		case req, ok := <-queue:
			if !ok {
				return nil
			}
			switch req.kind {
			case reqStop:
				return e.clock.Run("flush", func(*stats.Entry) error {
					return dst.Flush()
				})
			case reqCopy:
				if err := e.copyChunk(src, dst, buf, req.start, req.length, report); err != nil {
					return err
				}
			case reqZero:
				if err := e.zeroChunk(dst, req.start, req.length, report); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) copyChunk(src, dst backend.Backend, buf []byte, start, length int64, report Progress) error {
	for length > 0 {
		n := int64(len(buf))
		if n > length {
			n = length
		}
		chunk := buf[:n]

		if err := src.Seek(start); err != nil {
			return err
		}
		var got int
		if err := e.clock.Run("read", func(s *stats.Entry) error {
			var rerr error
			got, rerr = src.ReadInto(chunk)
			s.Bytes += int64(got)
			return rerr
		}); err != nil {
			return err
		}
		if got == 0 {
			return fmt.Errorf("copyengine: short read at offset %d, %d bytes remaining", start, length)
		}

		if err := dst.Seek(start); err != nil {
			return err
		}
		if err := e.clock.Run("write", func(s *stats.Entry) error {
			_, werr := dst.Write(chunk[:got])
			s.Bytes += int64(got)
			return werr
		}); err != nil {
			return err
		}

		report(int64(got))
		start += int64(got)
		length -= int64(got)
	}
	return nil
}

func (e *Engine) zeroChunk(dst backend.Backend, start, length int64, report Progress) error {
	if err := dst.Seek(start); err != nil {
		return err
	}
	return e.clock.Run("zero", func(s *stats.Entry) error {
		n, err := dst.Zero(length)
		s.Bytes += n
		if err != nil {
			return err
		}
		report(n)
		return nil
	})
}
