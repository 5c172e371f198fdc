package transfer

import (
	"net/http"

	"github.com/ovirt/imageio-core/internal/httpsrv"
)

// handleInfo serves GET /info/: daemon-wide status used for liveness
// and capacity checks (spec.md §4.5 "/info/").
func (h *Handlers) handleInfo(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	h.stats.TicketsGauge.Set(float64(h.authz.Len()))
	httpsrv.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"tickets": h.authz.Len(),
	})
}
