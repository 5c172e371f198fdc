package httpsrv

import (
	"net/http"

	"github.com/ovirt/imageio-core/internal/jsonutil"
)

// WriteJSON marshals v with the shared jsonutil codec and writes it as the
// response body with the given status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	body, err := jsonutil.Marshal(v)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
