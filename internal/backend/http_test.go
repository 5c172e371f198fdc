package backend

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// TestHTTPBackendLegacyCapabilityNegotiation covers end-to-end scenario
// S6: a proxy's first OPTIONS to an old daemon returns 405, so the
// backend must assume the minimum feature set and Allow, and its PUT
// must carry no flush= query.
func TestHTTPBackendLegacyCapabilityNegotiation(t *testing.T) {
	var sawFlushQuery bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodPut:
			if r.URL.Query().Get("flush") != "" {
				sawFlushQuery = true
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL + "/images/ticket1")
	if err != nil {
		t.Fatal(err)
	}
	client := srv.Client()
	b, err := OpenHTTP(u, true, client)
	if err != nil {
		t.Fatal(err)
	}
	if !b.legacy {
		t.Fatal("expected legacy mode after a 405 on OPTIONS")
	}
	allow := b.Allow()
	if len(allow) != 3 || allow[0] != "OPTIONS" || allow[1] != "GET" || allow[2] != "PUT" {
		t.Fatalf("unexpected Allow: %v", allow)
	}
	if b.HasFeature("zero") {
		t.Fatal("legacy backend must not advertise zero")
	}

	if err := b.Seek(0); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if sawFlushQuery {
		t.Fatal("PUT to a legacy remote must not carry a flush= query")
	}
}

func TestHTTPBackendDiscoversFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Allow", "OPTIONS,GET,PUT,PATCH")
			w.Write([]byte(`{"features":["checksum","extents","zero","flush"],"max_readers":4,"max_writers":1}`))
		}
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL + "/images/ticket1")
	b, err := OpenHTTP(u, true, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if b.legacy {
		t.Fatal("expected non-legacy mode")
	}
	if !b.HasFeature("zero") || !b.HasFeature("flush") || !b.HasFeature("extents") {
		t.Fatal("expected all advertised features to be recorded")
	}
	if b.MaxReaders() != 4 || b.MaxWriters() != 1 {
		t.Fatalf("unexpected max_readers/max_writers: %d/%d", b.MaxReaders(), b.MaxWriters())
	}
}
