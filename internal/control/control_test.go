package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ovirt/imageio-core/internal/config"
	"github.com/ovirt/imageio-core/internal/ticket"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Control.RemoveTimeout = time.Second
	return cfg
}

func TestHandlePutAddsTicket(t *testing.T) {
	authz := ticket.NewAuthorizer()
	h := New(authz, testConfig())
	rt := h.Router()

	spec := ticket.Spec{
		UUID:    "3eb1d392-9ec4-4935-9f7a-16ba429b3af3",
		URL:     "file:///tmp/image",
		Ops:     []string{"read"},
		Size:    1024,
		Timeout: 300,
	}
	body, _ := json.Marshal(spec)
	req := httptest.NewRequest(http.MethodPut, "/tickets/"+spec.UUID, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := authz.Get(spec.UUID); err != nil {
		t.Fatalf("expected ticket to be added: %v", err)
	}
}

func TestHandlePutRejectsUUIDMismatch(t *testing.T) {
	authz := ticket.NewAuthorizer()
	h := New(authz, testConfig())
	rt := h.Router()

	spec := ticket.Spec{
		UUID:    "3eb1d392-9ec4-4935-9f7a-16ba429b3af3",
		URL:     "file:///tmp/image",
		Ops:     []string{"read"},
		Timeout: 300,
	}
	body, _ := json.Marshal(spec)
	req := httptest.NewRequest(http.MethodPut, "/tickets/other-uuid", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on uuid mismatch, got %d", rec.Code)
	}
}

func TestHandleGetReturnsInfo(t *testing.T) {
	authz := ticket.NewAuthorizer()
	spec := ticket.Spec{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "file:///tmp/image", Ops: []string{"read"}, Size: 99, Timeout: 300}
	if _, err := authz.Add(spec); err != nil {
		t.Fatal(err)
	}
	h := New(authz, testConfig())
	rt := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/tickets/"+spec.UUID, nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info ticket.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Size != 99 {
		t.Fatalf("expected size 99, got %d", info.Size)
	}
}

func TestHandlePatchExtends(t *testing.T) {
	authz := ticket.NewAuthorizer()
	spec := ticket.Spec{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "file:///tmp/image", Ops: []string{"read"}, Timeout: 1}
	tk, err := authz.Add(spec)
	if err != nil {
		t.Fatal(err)
	}
	before := tk.Expires()
	h := New(authz, testConfig())
	rt := h.Router()

	req := httptest.NewRequest(http.MethodPatch, "/tickets/"+spec.UUID, bytes.NewBufferString(`{"timeout":600}`))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !tk.Expires().After(before) {
		t.Fatal("expected PATCH to extend the ticket's expiry")
	}
}

func TestHandleDeleteIsIdempotent(t *testing.T) {
	authz := ticket.NewAuthorizer()
	spec := ticket.Spec{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "file:///tmp/image", Ops: []string{"read"}, Timeout: 300}
	if _, err := authz.Add(spec); err != nil {
		t.Fatal(err)
	}
	h := New(authz, testConfig())
	rt := h.Router()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/tickets/"+spec.UUID, nil)
		rec := httptest.NewRecorder()
		rt.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("iteration %d: expected 204, got %d", i, rec.Code)
		}
	}
}

func TestHandleDeleteAll(t *testing.T) {
	authz := ticket.NewAuthorizer()
	if _, err := authz.Add(ticket.Spec{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "file:///tmp/image", Ops: []string{"read"}, Timeout: 300}); err != nil {
		t.Fatal(err)
	}
	h := New(authz, testConfig())
	rt := h.Router()

	req := httptest.NewRequest(http.MethodDelete, "/tickets/", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if authz.Len() != 0 {
		t.Fatalf("expected authorizer to be empty, got %d tickets", authz.Len())
	}
}
