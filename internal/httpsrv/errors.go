package httpsrv

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/logging"
)

// WriteError maps err onto the status taxonomy of spec.md §7: a typed
// cos.HTTPError renders as plain text with its own status; anything else
// becomes a generic 500 whose detail only reaches the log, never the
// response body, mirroring cmn.WriteErr's dispatch on typed errors
// instead of string sniffing.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *cos.AuthError
	var rangeErr *cos.RangeError
	var notAllowed *cos.MethodNotAllowedError
	var httpErr cos.HTTPError

	switch {
	case errors.As(err, &authErr):
		ForceClose(w)
		http.Error(w, authErr.Error(), authErr.StatusCode())
	case errors.As(err, &rangeErr):
		w.Header().Set("Content-Range", cos.ContentRangeUnsatisfiable(rangeErr.Limit))
		http.Error(w, rangeErr.Error(), rangeErr.StatusCode())
	case errors.As(err, &notAllowed):
		if len(notAllowed.Allowed) > 0 {
			w.Header().Set("Allow", strings.Join(notAllowed.Allowed, ","))
		}
		http.Error(w, notAllowed.Error(), notAllowed.StatusCode())
	case errors.As(err, &httpErr):
		http.Error(w, httpErr.Error(), httpErr.StatusCode())
	default:
		method, path := "?", "?"
		if r != nil {
			method, path = r.Method, r.URL.Path
		}
		logging.Errorf("internal error handling %s %s: %v", method, path, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
