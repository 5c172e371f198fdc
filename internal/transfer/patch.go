package transfer

import (
	"context"
	"io"
	"net/http"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/httpsrv"
	"github.com/ovirt/imageio-core/internal/jsonutil"
	"github.com/ovirt/imageio-core/internal/stats"
	"github.com/ovirt/imageio-core/internal/ticket"
)

type patchBody struct {
	Op     string `json:"op"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Flush  bool   `json:"flush"`
}

// handlePatch serves PATCH /images/{uuid}: {"op": "zero", ...} or
// {"op": "flush"} (spec.md §4.5 "PATCH").
func (h *Handlers) handlePatch(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Authorize(p["uuid"], "write")
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpsrv.WriteError(w, r, cos.NewValidationError("reading request body: %v", err))
		return
	}
	var pb patchBody
	if err := jsonutil.Unmarshal(body, &pb); err != nil {
		httpsrv.WriteError(w, r, cos.NewValidationError("invalid JSON body: %v", err))
		return
	}

	cs := httpsrv.FromContext(r.Context())
	cs.SetIdleDeadline(tk.InactivityTimeout)

	switch pb.Op {
	case "zero":
		h.patchZero(w, r, tk, cs, pb)
	case "flush":
		h.patchFlush(w, r, tk, cs)
	default:
		httpsrv.WriteError(w, r, cos.NewValidationError("unsupported patch op %q", pb.Op))
	}
}

func (h *Handlers) patchZero(w http.ResponseWriter, r *http.Request, tk *ticket.Ticket, cs *httpsrv.ConnState, pb patchBody) {
	if pb.Size < 0 || pb.Offset < 0 {
		httpsrv.WriteError(w, r, cos.NewValidationError("zero: offset and size must be >= 0"))
		return
	}
	if pb.Offset+pb.Size > tk.Size {
		httpsrv.WriteError(w, r, cos.NewRangeError(tk.Size, "zero range %d-%d exceeds ticket size %d", pb.Offset, pb.Offset+pb.Size, tk.Size))
		return
	}
	ctx, err := h.backendContext(cs, tk, true)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)

	clock := h.stats.NewTimer()
	op := newHandlerOp(r.Context(), pb.Offset, pb.Size, func(rctx context.Context, progress func(int64)) error {
		return clock.Run("zero", func(e *stats.Entry) error {
			err := zeroInSteps(rctx, b, pb.Offset, pb.Size, maxZeroStep, progress)
			e.Bytes = pb.Size
			return err
		})
	})
	if err := tk.Run(op); err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	if pb.Flush {
		if err := b.Flush(); err != nil {
			httpsrv.WriteError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) patchFlush(w http.ResponseWriter, r *http.Request, tk *ticket.Ticket, cs *httpsrv.ConnState) {
	ctx, err := h.backendContext(cs, tk, true)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)
	clock := h.stats.NewTimer()
	if err := clock.Run("flush", func(*stats.Entry) error { return b.Flush() }); err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
