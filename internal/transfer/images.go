package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/httpsrv"
	"github.com/ovirt/imageio-core/internal/logging"
	"github.com/ovirt/imageio-core/internal/stats"
)

func contentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", filename, url.PathEscape(filename))
}

func parseContentRangeOffset(header string) (int64, error) {
	if header == "" {
		return 0, nil
	}
	var start int64
	if _, err := fmt.Sscanf(header, "bytes %d-", &start); err != nil {
		return 0, cos.NewValidationError("invalid Content-Range header %q", header)
	}
	return start, nil
}

// handleGet serves GET /images/{uuid}: the whole image, or the byte range
// named by a Range header (spec.md §4.5 "GET").
func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Authorize(p["uuid"], "read")
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	cs := httpsrv.FromContext(r.Context())
	cs.SetIdleDeadline(tk.InactivityTimeout)
	ctx, err := h.backendContext(cs, tk, false)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)

	backendSize, err := b.Size()
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	limit := tk.Size
	if backendSize < limit {
		limit = backendSize
	}

	var offset, length int64
	length = limit
	ranged := false
	if rangeHdr := r.Header.Get("Range"); rangeHdr != "" {
		br, ok := cos.ParseRangeHeader(rangeHdr)
		if !ok {
			httpsrv.WriteError(w, r, cos.NewRangeError(limit, "invalid or unsupported Range header %q", rangeHdr))
			return
		}
		offset = br.Start
		if br.Length < 0 {
			length = limit - offset
		} else {
			length = br.Length
		}
		ranged = true
	}
	if offset < 0 || length < 0 || offset+length > limit {
		httpsrv.WriteError(w, r, cos.NewRangeError(limit, "range %d-%d exceeds image size %d", offset, offset+length, limit))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Disposition", contentDisposition(tk.Filename))
	if ranged {
		w.Header().Set("Content-Range", cos.ContentRangeHeader(offset, offset+length-1, limit))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	clock := h.stats.NewTimer()
	op := newHandlerOp(r.Context(), offset, length, func(rctx context.Context, progress func(int64)) error {
		return clock.Run("read", func(e *stats.Entry) error {
			err := streamResponseBody(rctx, w, b, offset, length, ctx.Buffer, progress)
			e.Bytes = length
			return err
		})
	})
	if err := tk.Run(op); err != nil {
		logging.Warningf("transfer: GET %s: %v", tk.UUID, err)
	}
}

// handlePut serves PUT /images/{uuid}: writes the request body into the
// image at the offset named by Content-Range (spec.md §4.5 "PUT").
func (h *Handlers) handlePut(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Authorize(p["uuid"], "write")
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	if r.ContentLength < 0 {
		httpsrv.WriteError(w, r, cos.NewValidationError("Content-Length is required"))
		return
	}
	offset, err := parseContentRangeOffset(r.Header.Get("Content-Range"))
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	length := r.ContentLength
	if offset < 0 || offset+length > tk.Size {
		httpsrv.WriteError(w, r, cos.NewRangeError(tk.Size, "PUT range %d-%d exceeds ticket size %d", offset, offset+length, tk.Size))
		return
	}

	cs := httpsrv.FromContext(r.Context())
	cs.SetIdleDeadline(tk.InactivityTimeout)
	ctx, err := h.backendContext(cs, tk, true)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)

	clock := h.stats.NewTimer()
	op := newHandlerOp(r.Context(), offset, length, func(rctx context.Context, progress func(int64)) error {
		return clock.Run("write", func(e *stats.Entry) error {
			err := streamRequestBody(rctx, b, offset, length, r.Body, ctx.Buffer, progress)
			e.Bytes = length
			return err
		})
	})
	if err := tk.Run(op); err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}

	if r.URL.Query().Get("flush") != "n" {
		if err := b.Flush(); err != nil {
			httpsrv.WriteError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleOptions serves OPTIONS /images/{uuid}: the advertised feature set
// and per-backend limits used for capability negotiation (spec.md §4.5
// "OPTIONS"). A bare "*" uuid reports the daemon-wide feature set with no
// ticket lookup.
func (h *Handlers) handleOptions(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	if p["uuid"] == "*" {
		w.Header().Set("Allow", "OPTIONS,GET,PUT,PATCH")
		httpsrv.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
			"features": []string{"zero", "flush", "extents", "checksum"},
		})
		return
	}

	tk, err := h.authz.Authorize(p["uuid"], "read")
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	writable := tk.MayOp("write")
	cs := httpsrv.FromContext(r.Context())
	ctx, err := h.backendContext(cs, tk, writable)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)

	allow := []string{"OPTIONS", "GET"}
	features := []string{"extents", "checksum"}
	if writable {
		allow = append(allow, "PUT", "PATCH")
		features = append(features, "zero", "flush")
	}
	w.Header().Set("Allow", strings.Join(allow, ","))
	httpsrv.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"features":    features,
		"max_readers": b.MaxReaders(),
		"max_writers": b.MaxWriters(),
	})
}
