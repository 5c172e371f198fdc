package transfer

import (
	"net/http"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/extent"
	"github.com/ovirt/imageio-core/internal/httpsrv"
)

// extentDoc is the wire shape of one extent, matching what
// internal/backend's HTTP client parses back out of this same response
// (spec.md §4.5 "/images/{uuid}/extents"): zero/hole/dirty are all
// reported together regardless of which context was requested.
type extentDoc struct {
	Start  int64 `json:"start"`
	Length int64 `json:"length"`
	Zero   bool  `json:"zero"`
	Hole   bool  `json:"hole"`
	Dirty  bool  `json:"dirty"`
}

// handleExtents serves GET /images/{uuid}/extents?context=zero|dirty.
func (h *Handlers) handleExtents(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Authorize(p["uuid"], "read")
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	extCtx, ok := backend.ParseExtentContext(r.URL.Query().Get("context"))
	if !ok {
		httpsrv.WriteError(w, r, cos.NewNotFoundError("unsupported extents context %q", r.URL.Query().Get("context")))
		return
	}

	cs := httpsrv.FromContext(r.Context())
	ctx, err := h.backendContext(cs, tk, false)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	b := ctx.Backend.(backend.Backend)

	it, err := b.Extents(extCtx)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	exts, err := backend.CollectExtents(it)
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}

	out := make([]extentDoc, len(exts))
	for i, e := range exts {
		out[i] = extentDoc{
			Start:  e.Start,
			Length: e.Length,
			Zero:   e.Kind == extent.Zero,
			Hole:   e.Kind == extent.Hole,
			Dirty:  e.Kind == extent.Dirty,
		}
	}
	httpsrv.WriteJSON(w, r, http.StatusOK, out)
}
