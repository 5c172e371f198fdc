package httpsrv

import (
	"net/http"
	"strings"
)

// isCORSPreflight distinguishes a browser's CORS preflight OPTIONS from a
// domain OPTIONS request (e.g. /images/{uuid}'s own capability
// negotiation): only the former carries Access-Control-Request-* headers
// (spec.md §4.4 "CORS").
func isCORSPreflight(r *http.Request) bool {
	return r.Header.Get("Access-Control-Request-Method") != "" ||
		r.Header.Get("Access-Control-Request-Headers") != ""
}

// writePreflight answers a CORS preflight with the path's allowed methods
// and a day-long max-age, so the browser doesn't re-probe every request.
func writePreflight(w http.ResponseWriter, allowed []string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(allowed, ","))
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}
