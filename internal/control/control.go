// Package control implements the control-plane HTTP surface: creating,
// inspecting, extending, and removing tickets (spec.md §4.5's "/tickets/"
// table), grounded on ais/daemon.go's split between data and control
// listeners and original_source's Handler class in
// daemon/ovirt_imageio_daemon/auth.py.

package control

import (
	"io"
	"net/http"
	"time"

	"github.com/ovirt/imageio-core/internal/config"
	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/httpsrv"
	"github.com/ovirt/imageio-core/internal/jsonutil"
	"github.com/ovirt/imageio-core/internal/ticket"
)

// Handlers wires the shared authorizer and configuration the /tickets/
// routes need.
type Handlers struct {
	authz *ticket.Authorizer
	cfg   *config.Config
}

func New(authz *ticket.Authorizer, cfg *config.Config) *Handlers {
	return &Handlers{authz: authz, cfg: cfg}
}

// Router builds the route table for this service's control-plane endpoints.
func (h *Handlers) Router() *httpsrv.Router {
	rt := httpsrv.NewRouter()
	rt.Get("/tickets/{uuid}", h.handleGet)
	rt.Put("/tickets/{uuid}", h.handlePut)
	rt.Patch("/tickets/{uuid}", h.handlePatch)
	rt.Delete("/tickets/{uuid}", h.handleDelete)
	rt.Delete("/tickets/", h.handleDeleteAll)
	return rt
}

// handleGet serves GET /tickets/{uuid}: the ticket's current Info snapshot
// (spec.md §4.1 "info").
func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Get(p["uuid"])
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	httpsrv.WriteJSON(w, r, http.StatusOK, tk.Info())
}

// handlePut serves PUT /tickets/{uuid}: add (or replace, while inactive) a
// ticket (spec.md §4.1 "add").
func (h *Handlers) handlePut(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpsrv.WriteError(w, r, cos.NewValidationError("reading request body: %v", err))
		return
	}
	var spec ticket.Spec
	if err := jsonutil.Unmarshal(body, &spec); err != nil {
		httpsrv.WriteError(w, r, cos.NewValidationError("invalid JSON body: %v", err))
		return
	}
	if spec.UUID == "" {
		spec.UUID = p["uuid"]
	} else if spec.UUID != p["uuid"] {
		httpsrv.WriteError(w, r, cos.NewValidationError("ticket uuid %q does not match path %q", spec.UUID, p["uuid"]))
		return
	}
	if _, err := h.authz.Add(spec); err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type patchTicketBody struct {
	Timeout int64 `json:"timeout"`
}

// handlePatch serves PATCH /tickets/{uuid}: extend the ticket's expiry
// (spec.md §4.1 "extend").
func (h *Handlers) handlePatch(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	tk, err := h.authz.Get(p["uuid"])
	if err != nil {
		httpsrv.WriteError(w, r, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpsrv.WriteError(w, r, cos.NewValidationError("reading request body: %v", err))
		return
	}
	var pb patchTicketBody
	if err := jsonutil.Unmarshal(body, &pb); err != nil {
		httpsrv.WriteError(w, r, cos.NewValidationError("invalid JSON body: %v", err))
		return
	}
	if pb.Timeout < 0 {
		httpsrv.WriteError(w, r, cos.NewValidationError("invalid timeout %d", pb.Timeout))
		return
	}
	tk.Extend(time.Duration(pb.Timeout) * time.Second)
	w.WriteHeader(http.StatusOK)
}

// handleDelete serves DELETE /tickets/{uuid}: cancel and remove the
// ticket. Removing an already-absent ticket is not an error, so that
// retrying a DELETE is safe (spec.md §4.1 "Removal policy" idempotence).
func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	err := h.authz.Remove(p["uuid"], h.cfg.Control.RemoveTimeout)
	if err != nil {
		if _, ok := err.(*cos.NotFoundError); ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		httpsrv.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAll serves DELETE /tickets/: drop every ticket without
// canceling, used for process shutdown (spec.md §4.1, matching
// original_source's bare DELETE on the collection).
func (h *Handlers) handleDeleteAll(w http.ResponseWriter, r *http.Request, p httpsrv.Params) {
	h.authz.Clear()
	w.WriteHeader(http.StatusNoContent)
}
