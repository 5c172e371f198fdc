package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/extent"
	"github.com/ovirt/imageio-core/internal/httpsrv"
	"github.com/ovirt/imageio-core/internal/stats"
)

// handleChecksumAlgorithms serves GET /checksum/algorithms: the closed set
// of accepted algorithm names (spec.md §4.5, SPEC_FULL.md §C).
func (h *Handlers) handleChecksumAlgorithms(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	httpsrv.WriteJSON(w, r, http.StatusOK, map[string]interface{}{"algorithms": extent.Algorithms})
}

// handleChecksum serves GET /images/{uuid}/checksum?algorithm=... (spec.md
// §4.5 "/images/{uuid}/checksum").
func (h *Handlers) handleChecksum(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Authorize(p["uuid"], "read")
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	algorithm := r.URL.Query().Get("algorithm")
	if algorithm == "" {
		algorithm = "sha1"
	}
	if !supportedAlgorithm(algorithm) {
		httpsrv.WriteError(w, r, cos.NewValidationError("unsupported checksum algorithm %q, expecting one of %v", algorithm, extent.Algorithms))
		return
	}

	cs := httpsrv.FromContext(r.Context())
	ctx, err := h.backendContext(cs, tk, false)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)

	size, err := b.Size()
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	var digest string
	clock := h.stats.NewTimer()
	err = clock.Run("checksum", func(e *stats.Entry) error {
		var cerr error
		digest, cerr = computeChecksum(r.Context(), b, size, algorithm, ctx.Buffer)
		e.Bytes = size
		return cerr
	})
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	httpsrv.WriteJSON(w, r, http.StatusOK, map[string]interface{}{"algorithm": algorithm, "checksum": digest})
}

func supportedAlgorithm(name string) bool {
	for _, a := range extent.Algorithms {
		if a == name {
			return true
		}
	}
	return false
}

// computeChecksum walks [0, size) in fixed BlockHash windows, asking the
// source's zero-context extent map whether each window is fully zero and
// taking BlockHash's fast path if so, otherwise reading and hashing the
// literal bytes (spec.md §3 "Block", grounded on blkhash.py's block-at-a-
// time digest-of-digests construction).
func computeChecksum(ctx context.Context, src backend.Backend, size int64, algorithm string, buf []byte) (string, error) {
	bh, err := extent.NewBlockHash(algorithm, extent.DefaultBlockSize)
	if err != nil {
		return "", err
	}
	it, err := src.Extents(backend.ContextZero)
	if err != nil {
		return "", err
	}

	blockSize := int64(extent.DefaultBlockSize)
	var cur extent.Extent
	haveExt := false

	for pos := int64(0); pos < size; {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		winLen := blockSize
		if pos+winLen > size {
			winLen = size - pos
		}
		for !haveExt || pos >= cur.End() {
			e, eerr := it.Next()
			if eerr == io.EOF {
				return "", fmt.Errorf("checksum: extent map ended before offset %d of %d", pos, size)
			}
			if eerr != nil {
				return "", eerr
			}
			cur = e
			haveExt = true
		}

		if cur.IsZero() && pos+winLen <= cur.End() {
			bh.Zero(int(winLen))
		} else {
			if int64(len(buf)) < winLen {
				buf = make([]byte, winLen)
			}
			if err := src.Seek(pos); err != nil {
				return "", err
			}
			n, rerr := readFullFromBackend(src, buf[:winLen])
			if rerr != nil {
				return "", rerr
			}
			if int64(n) != winLen {
				return "", fmt.Errorf("checksum: short read at offset %d", pos)
			}
			bh.Update(buf[:winLen])
		}
		pos += winLen
	}
	return bh.HexDigest(), nil
}
