package backend

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ovirt/imageio-core/internal/cos"
	"github.com/ovirt/imageio-core/internal/extent"
	"github.com/ovirt/imageio-core/internal/jsonutil"
	"github.com/ovirt/imageio-core/internal/logging"
)

// HTTP wraps a remote imageio URL (spec.md §4.2 "HTTP backend (proxy
// mode)"), grounded on ais/backend/http.go's httpProvider: one
// *http.Client per scheme, built once via newHTTPClient the way
// httpProvider keeps a plain and a TLS client.
type HTTP struct {
	base     *url.URL
	client   *http.Client
	writable bool
	pos      int64

	features   map[string]bool
	allow      []string
	maxReaders int
	maxWriters int
	legacy     bool // OPTIONS failed or returned no body; assume the minimum feature set
}

// NewHTTPClient builds the *http.Client used for proxy-mode backends,
// mirroring cmn.NewClient(cmn.TransportArgs{...}) in ais/backend/http.go.
func NewHTTPClient(timeout time.Duration, caFile string) (*http.Client, error) {
	transport := &http.Transport{}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("http backend: no certificates found in %s", caFile)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// OpenHTTP issues the capability-discovery OPTIONS request described in
// spec.md §4.2 and returns a ready-to-use backend.
func OpenHTTP(base *url.URL, writable bool, client *http.Client) (*HTTP, error) {
	h := &HTTP{base: base, client: client, writable: writable, features: map[string]bool{}}
	if err := h.discover(); err != nil {
		return nil, err
	}
	return h, nil
}

type optionsBody struct {
	Features   []string `json:"features"`
	MaxReaders int      `json:"max_readers"`
	MaxWriters int      `json:"max_writers"`
}

// discover issues OPTIONS against the ticket-scoped image URL. If the
// server refuses OPTIONS (405) or returns no body, the minimum feature
// set is assumed (spec.md §4.2, exercised by end-to-end scenario S6).
func (h *HTTP) discover() error {
	req, err := http.NewRequest(http.MethodOptions, h.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		h.allow = []string{"OPTIONS", "GET", "PUT"}
		h.legacy = true
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		h.allow = []string{"OPTIONS", "GET", "PUT"}
		h.legacy = true
		return nil
	}
	var ob optionsBody
	if err := jsonutil.Unmarshal(body, &ob); err != nil {
		logging.Warningf("http backend: ignoring unparsable OPTIONS body from %s: %v", h.base, err)
		h.allow = []string{"OPTIONS", "GET", "PUT"}
		h.legacy = true
		return nil
	}
	for _, f := range ob.Features {
		h.features[f] = true
	}
	h.maxReaders = ob.MaxReaders
	h.maxWriters = ob.MaxWriters
	if allow := resp.Header.Get("Allow"); allow != "" {
		h.allow = splitComma(allow)
	} else {
		h.allow = []string{"OPTIONS", "GET", "PUT"}
	}
	return nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, trimSpace(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func (h *HTTP) Readable() bool    { return true }
func (h *HTTP) Writable() bool    { return h.writable }
func (h *HTTP) BlockSize() int64  { return 1 }
func (h *HTTP) MaxReaders() int   { return h.maxReaders }
func (h *HTTP) MaxWriters() int   { return h.maxWriters }

// HasFeature and Allow expose the OPTIONS discovery result so a proxying
// PUT/PATCH handler can match the upstream's negotiated capability set
// (spec.md §4.2, end-to-end scenario S6).
func (h *HTTP) HasFeature(name string) bool { return h.features[name] }
func (h *HTTP) Allow() []string             { return h.allow }

func (h *HTTP) Size() (int64, error) {
	req, err := http.NewRequest(http.MethodGet, h.base.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	cr := resp.Header.Get("Content-Range")
	if cr == "" {
		return resp.ContentLength, nil
	}
	var size int64
	if _, err := fmt.Sscanf(cr, "bytes 0-0/%d", &size); err == nil {
		return size, nil
	}
	return resp.ContentLength, nil
}

func (h *HTTP) Seek(pos int64) error {
	h.pos = pos
	return nil
}

func (h *HTTP) ReadInto(buf []byte) (int, error) {
	start := h.pos
	end := start + int64(len(buf)) - 1
	req, err := http.NewRequest(http.MethodGet, h.base.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("http backend: GET %s: status %d", h.base, resp.StatusCode)
	}
	n, err := io.ReadFull(resp.Body, buf)
	h.pos += int64(n)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, nil
	}
	return n, err
}

func (h *HTTP) Write(buf []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPut, h.base.String(), bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.ContentLength = int64(len(buf))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", h.pos, h.pos+int64(len(buf))-1))
	if !h.legacy {
		q := req.URL.Query()
		q.Set("flush", "n")
		req.URL.RawQuery = q.Encode()
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("http backend: PUT %s: status %d", h.base, resp.StatusCode)
	}
	h.pos += int64(len(buf))
	return len(buf), nil
}

func (h *HTTP) patch(body map[string]interface{}) error {
	b, err := jsonutil.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPatch, h.base.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http backend: PATCH %s: status %d", h.base, resp.StatusCode)
	}
	return nil
}

func (h *HTTP) Zero(n int64) (int64, error) {
	if !h.features["zero"] {
		return 0, cos.NewValidationError("remote does not advertise the zero feature")
	}
	if err := h.patch(map[string]interface{}{"op": "zero", "offset": h.pos, "size": n}); err != nil {
		return 0, err
	}
	h.pos += n
	return n, nil
}

func (h *HTTP) Flush() error {
	if !h.features["flush"] {
		return nil
	}
	return h.patch(map[string]interface{}{"op": "flush"})
}

func (h *HTTP) Close() error { return nil }

// Extents emulates a single non-zero extent covering the whole image
// when the remote lacks the feature (spec.md §4.2); otherwise it issues
// GET .../extents?context=....
func (h *HTTP) Extents(ctx ExtentContext) (ExtentIterator, error) {
	if !h.features["extents"] {
		size, err := h.Size()
		if err != nil {
			return nil, err
		}
		return NewSliceExtentIterator([]extent.Extent{{Start: 0, Length: size, Kind: extent.Data}}), nil
	}
	u := *h.base
	u.Path += "/extents"
	q := u.Query()
	q.Set("context", ctx.String())
	u.RawQuery = q.Encode()
	resp, err := h.client.Get(u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, cos.NewNotFoundError("remote does not support extents context %q", ctx)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http backend: GET %s: status %d", u.String(), resp.StatusCode)
	}
	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Start  int64 `json:"start"`
		Length int64 `json:"length"`
		Zero   bool  `json:"zero"`
		Hole   bool  `json:"hole"`
		Dirty  bool  `json:"dirty"`
	}
	if err := jsonutil.Unmarshal(rawBody, &raw); err != nil {
		return nil, err
	}
	extents := make([]extent.Extent, len(raw))
	for i, r := range raw {
		kind := extent.Data
		switch {
		case ctx == ContextDirty && r.Dirty:
			kind = extent.Dirty
		case ctx == ContextDirty:
			kind = extent.Clean
		case r.Hole:
			kind = extent.Hole
		case r.Zero:
			kind = extent.Zero
		}
		extents[i] = extent.Extent{Start: r.Start, Length: r.Length, Kind: kind}
	}
	return NewSliceExtentIterator(extents), nil
}

var _ Backend = (*HTTP)(nil)
