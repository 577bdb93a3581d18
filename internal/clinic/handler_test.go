package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

func newTestServer(t *testing.T) (*httptest.Server, *StaticSource) {
	t.Helper()
	src := NewStaticSource(DefaultConfig("clinic-1"))
	h := NewHandler(src, "clinic-1", logging.NewWithWriter("error", io.Discard))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, src
}

func TestHandlerGetConfig(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cfg Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.ClinicID != "clinic-1" || cfg.Currency != "BRL" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestHandlerUpdateConfig(t *testing.T) {
	srv, src := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"name":            "Clínica Nova",
		"insurance_plans": []string{},
		"faq":             []FAQ{{Question: "Aceita PIX?", Answer: "Sim."}},
	})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/config", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cfg, _ := src.Get(context.Background(), "clinic-1")
	if cfg.Name != "Clínica Nova" || len(cfg.FAQ) != 1 {
		t.Fatalf("update not applied: %+v", cfg)
	}
	if len(cfg.Services) == 0 {
		t.Fatal("fields absent from the request must be kept")
	}
}

func TestHandlerUpdateConfigRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/config", bytes.NewReader([]byte("{")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
