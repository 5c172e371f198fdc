// Package transfer implements the data-plane HTTP surface: /images/{uuid}
// GET/PUT/PATCH/OPTIONS, its /extents and /checksum sub-resources, and
// /checksum/algorithms and /info/ (spec.md §4.5), grounded on
// ais/tgtobj.go's getObject/doPut range and streaming handling and
// original_source's blkhash.py/checksum.py.

package transfer

import (
	"time"

	"github.com/ovirt/imageio-core/internal/backend"
	"github.com/ovirt/imageio-core/internal/config"
	"github.com/ovirt/imageio-core/internal/httpsrv"
	"github.com/ovirt/imageio-core/internal/stats"
	"github.com/ovirt/imageio-core/internal/ticket"
)

// Handlers wires the authorizer, configuration, and stats registry the
// /images/* routes need.
type Handlers struct {
	authz *ticket.Authorizer
	cfg   *config.Config
	stats *stats.Registry
}

func New(authz *ticket.Authorizer, cfg *config.Config, reg *stats.Registry) *Handlers {
	return &Handlers{authz: authz, cfg: cfg, stats: reg}
}

// Router builds the route table for this service's data-plane endpoints.
func (h *Handlers) Router() *httpsrv.Router {
	rt := httpsrv.NewRouter()
	rt.Get("/images/{uuid}", h.handleGet)
	rt.Put("/images/{uuid}", h.handlePut)
	rt.Patch("/images/{uuid}", h.handlePatch)
	rt.Options("/images/{uuid}", h.handleOptions)
	rt.Get("/images/{uuid}/extents", h.handleExtents)
	rt.Get("/images/{uuid}/checksum", h.handleChecksum)
	rt.Get("/checksum/algorithms", h.handleChecksumAlgorithms)
	rt.Get("/info/", h.handleInfo)
	return rt
}

// backendContext returns the per-connection backend.Context for tk on
// this HTTP connection, opening the backend lazily on first use and
// registering it to close when the connection ends (spec.md §3
// "Per-connection backend context").
func (h *Handlers) backendContext(cs *httpsrv.ConnState, tk *ticket.Ticket, writable bool) (*ticket.Context, error) {
	connID := cs.ID()
	if ctx, ok := tk.GetContext(connID); ok {
		return ctx, nil
	}
	b, err := h.openBackend(tk, writable)
	if err != nil {
		return nil, err
	}
	ctx := &ticket.Context{Backend: b, Buffer: backend.AlignedBuffer(h.bufferSize(tk), int(b.BlockSize()))}
	if err := tk.AddContext(connID, ctx); err != nil {
		b.Close()
		return nil, err
	}
	cs.AddCloser(func() error {
		tk.RemoveContext(connID)
		return ctx.Close()
	})
	return ctx, nil
}

func (h *Handlers) openBackend(tk *ticket.Ticket, writable bool) (backend.Backend, error) {
	args := backend.OpenArgs{URL: tk.URL, Writable: writable, Sparse: tk.Sparse}
	args.HTTPClient.Timeout = 30 * time.Second
	args.HTTPClient.CAFile = h.cfg.Backend.HTTPCAFile
	return backend.Open(args)
}

func (h *Handlers) bufferSize(tk *ticket.Ticket) int {
	switch tk.URL.Scheme {
	case "file":
		return h.cfg.Backend.FileBufferSize
	case "nbd", "nbds":
		return h.cfg.Backend.NBDBufferSize
	default:
		return h.cfg.Backend.HTTPBufferSize
	}
}
