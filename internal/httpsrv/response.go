package httpsrv

import "net/http"

// responseWriter applies the connection-close policy of spec.md §4.4: an
// optional ?close=y query param always closes the connection after the
// response; any 4xx/5xx response to a request carrying a body does too,
// since the client may still be mid-upload when the error is noticed.
// ForceClose covers the remaining case, authorization errors, which close
// the connection regardless of whether the request had a body.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
	status      int
	hasBody     bool
	forceClose  bool
	authClose   bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.status = code
	if rw.forceClose || rw.authClose || (code >= 400 && rw.hasBody) {
		rw.Header().Set("Connection", "close")
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) StatusCode() int { return rw.status }

// ForceClose marks the response for connection close regardless of status
// or whether the request carried a body (spec.md §7, authorization
// errors: "the framework closes the underlying connection after such
// errors").
func ForceClose(w http.ResponseWriter) {
	if rw, ok := w.(*responseWriter); ok {
		rw.authClose = true
	}
}
