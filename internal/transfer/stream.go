package transfer

import (
	"context"
	"io"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/cos"
)

// readFullFromBackend loops ReadInto until buf is full or the backend
// reports EOF (ReadInto returns (0, nil) at EOF, unlike io.Reader's
// convention, so io.ReadFull cannot be used directly here).
func readFullFromBackend(src backend.Backend, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := src.ReadInto(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// streamRequestBody copies length bytes from body into dst starting at
// offset, using buf as the connection's reusable I/O buffer (spec.md §4.5
// "PUT"). A short body yields *cos.PartialContentError. When dst
// implements the optional ReaderFromBackend extension, the copy is
// delegated to it instead (spec.md §9 "a pair of optional extension
// capabilities").
func streamRequestBody(ctx context.Context, dst backend.Backend, offset, length int64, body io.Reader, buf []byte, progress func(int64)) error {
	if err := dst.Seek(offset); err != nil {
		return err
	}
	if streamer, ok := dst.(backend.ReaderFromBackend); ok {
		n, err := streamer.ReadFromStream(body, length, buf)
		progress(n)
		if err != nil {
			return err
		}
		if n != length {
			return &cos.PartialContentError{Expected: length, Got: n}
		}
		return nil
	}

	remaining := length
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, err := io.ReadFull(body, buf[:n]); err != nil {
			return &cos.PartialContentError{Expected: length, Got: length - remaining}
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
		progress(n)
	}
	return nil
}

// streamResponseBody copies length bytes from src starting at offset into
// w, using buf as the connection's reusable I/O buffer (spec.md §4.5
// "GET"). When src implements the optional WriterToBackend extension, the
// copy is delegated to it instead.
func streamResponseBody(ctx context.Context, w io.Writer, src backend.Backend, offset, length int64, buf []byte, progress func(int64)) error {
	if err := src.Seek(offset); err != nil {
		return err
	}
	if streamer, ok := src.(backend.WriterToBackend); ok {
		n, err := streamer.WriteToStream(w, length, buf)
		progress(n)
		return err
	}

	remaining := length
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		got, err := readFullFromBackend(src, buf[:n])
		if err != nil {
			return err
		}
		if got == 0 {
			return io.ErrUnexpectedEOF
		}
		if _, err := w.Write(buf[:got]); err != nil {
			return err
		}
		remaining -= int64(got)
		progress(int64(got))
	}
	return nil
}

// zeroInSteps zeroes length bytes starting at offset in chunks no larger
// than maxStep, so progress is reported at a steady rate (spec.md §4.5
// "PATCH zero").
func zeroInSteps(ctx context.Context, b backend.Backend, offset, length, maxStep int64, progress func(int64)) error {
	if err := b.Seek(offset); err != nil {
		return err
	}
	remaining := length
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		step := maxStep
		if step > remaining || step <= 0 {
			step = remaining
		}
		n, err := b.Zero(step)
		if err != nil {
			return err
		}
		progress(n)
		remaining -= n
		if n == 0 {
			break
		}
	}
	return nil
}

const maxZeroStep = 128 * 1024 * 1024
