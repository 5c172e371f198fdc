package httpsrv

import (
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/ovirt/imageio-core/internal/logging"
)

// Params holds named path parameters extracted by the router.
type Params map[string]string

// HandlerFunc is the signature every route handler implements.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p Params)

type route struct {
	method string
	re     *regexp.Regexp
	names  []string
	h      HandlerFunc
}

// Router dispatches by (path pattern, method): 404 for an unmatched path,
// 405 for a matched path with the wrong method, matching the dispatch
// shape of ais/target.go's route table (spec.md §4.4 "A router mapping
// (path-regex, handler) to methods").
type Router struct {
	routes []route
}

func NewRouter() *Router { return &Router{} }

func (rt *Router) Handle(method, pattern string, h HandlerFunc) {
	re, names := compilePattern(pattern)
	rt.routes = append(rt.routes, route{method: strings.ToUpper(method), re: re, names: names, h: h})
}

func (rt *Router) Get(pattern string, h HandlerFunc)     { rt.Handle(http.MethodGet, pattern, h) }
func (rt *Router) Put(pattern string, h HandlerFunc)     { rt.Handle(http.MethodPut, pattern, h) }
func (rt *Router) Patch(pattern string, h HandlerFunc)   { rt.Handle(http.MethodPatch, pattern, h) }
func (rt *Router) Delete(pattern string, h HandlerFunc)  { rt.Handle(http.MethodDelete, pattern, h) }
func (rt *Router) Options(pattern string, h HandlerFunc) { rt.Handle(http.MethodOptions, pattern, h) }

// compilePattern turns a pattern like "/images/{uuid}" into an anchored
// regexp plus the ordered list of named segments it captures.
func compilePattern(pattern string) (*regexp.Regexp, []string) {
	var sb strings.Builder
	sb.WriteByte('^')
	var names []string
	for i := 0; i < len(pattern); {
		if pattern[i] == '{' {
			end := strings.IndexByte(pattern[i:], '}')
			name := pattern[i+1 : i+end]
			names = append(names, name)
			sb.WriteString("([^/]+)")
			i += end + 1
			continue
		}
		sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
		i++
	}
	sb.WriteByte('$')
	return regexp.MustCompile(sb.String()), names
}

func requestHasBody(r *http.Request) bool {
	return r.ContentLength > 0 || r.Method == http.MethodPut
}

// ServeHTTP matches path and method, answers CORS preflight directly, and
// otherwise dispatches to the registered handler behind a connection-close
// policy wrapper (spec.md §4.4).
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	var allowed []string
	var matched *route
	var params Params
	for i := range rt.routes {
		rr := &rt.routes[i]
		m := rr.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		allowed = appendUnique(allowed, rr.method)
		if rr.method == r.Method {
			matched = rr
			params = make(Params, len(rr.names))
			for idx, name := range rr.names {
				params[name] = m[idx+1]
			}
		}
	}
	if len(allowed) == 0 {
		http.NotFound(w, r)
		return
	}
	sort.Strings(allowed)
	if r.Method == http.MethodOptions && isCORSPreflight(r) {
		writePreflight(w, allowed)
		return
	}
	if matched == nil {
		w.Header().Set("Allow", strings.Join(allowed, ","))
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rw := &responseWriter{
		ResponseWriter: w,
		hasBody:        requestHasBody(r),
		forceClose:     r.URL.Query().Get("close") == "y",
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("httpsrv: panic handling %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			if !rw.wroteHeader {
				WriteError(rw, r, fmt.Errorf("internal error"))
			}
		}
	}()
	matched.h(rw, r, params)
}

func appendUnique(methods []string, m string) []string {
	for _, x := range methods {
		if x == m {
			return methods
		}
	}
	return append(methods, m)
}
