package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kiln/internal/api"
	"kiln/internal/config"
	"kiln/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	marker := filepath.Join(dataDir, "kilnd-enabled")
	if err := os.WriteFile(marker, []byte("ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Paths.DataDir = dataDir
	cfg.Server.MarkerFile = marker
	// Rate limiting is exercised in the guard tests; here it would couple
	// unrelated cases through the shared state file.
	cfg.Server.Guards.RateLimit = false
	return &cfg
}

func newHandler(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	srv, err := server.New(cfg, nil)
	if err != nil {
		t.Fatalf("server.New returned error: %v", err)
	}
	return srv.Handler()
}

func submit(t *testing.T, handler http.Handler, report api.FlashReport) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/flash-log", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:52100"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestFlashLogSuccessIncrementsCounters(t *testing.T) {
	handler := newHandler(t, testConfig(t))

	rec := submit(t, handler, api.FlashReport{Project: "weather-station", Success: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp api.FlashLogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatal("response success = false")
	}
	if resp.Counts.Total != 1 || resp.Counts.Success != 1 || resp.Counts.Failed != 0 {
		t.Fatalf("counts = %+v", resp.Counts)
	}

	rec = submit(t, handler, api.FlashReport{Project: "weather-station", Success: false, Error: "timeout waiting for packet header"})
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Counts.Total != 2 || resp.Counts.Failed != 1 {
		t.Fatalf("counts after failure = %+v", resp.Counts)
	}
}

func TestFlashLogFailureRecordsErrorEntry(t *testing.T) {
	handler := newHandler(t, testConfig(t))

	rec := submit(t, handler, api.FlashReport{
		Project: "demo",
		Success: false,
		Error:   "timeout waiting for packet header",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = get(t, handler, "/api/flash-errors")
	if rec.Code != http.StatusOK {
		t.Fatalf("errors status = %d", rec.Code)
	}
	var page api.ErrorLogPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("page total = %d", page.Total)
	}
	entry := page.Entries[0]
	if entry.Category != "connection_timeout" {
		t.Fatalf("entry category = %q", entry.Category)
	}
	if entry.Project != "demo" || entry.ID == "" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestFlashLogHoneypotFakesSuccess(t *testing.T) {
	cfg := testConfig(t)
	handler := newHandler(t, cfg)

	rec := submit(t, handler, api.FlashReport{
		Project: "demo",
		Success: true,
		Email:   "bot@spam.example",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want indistinguishable 200", rec.Code)
	}
	var resp api.FlashLogResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success {
		t.Fatal("honeypot response must look like success")
	}

	// Nothing was stored.
	rec = get(t, handler, "/api/flash-counts")
	var counts map[string]api.Counters
	json.Unmarshal(rec.Body.Bytes(), &counts)
	if len(counts) != 0 {
		t.Fatalf("counters mutated by honeypot hit: %+v", counts)
	}
}

func TestFlashLogRejectsWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	os.Remove(cfg.Server.MarkerFile)
	handler := newHandler(t, cfg)

	rec := submit(t, handler, api.FlashReport{Project: "demo", Success: true})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestFlashLogRejectsWrongMethod(t *testing.T) {
	handler := newHandler(t, testConfig(t))
	rec := get(t, handler, "/api/flash-log")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("405 body not JSON: %v", err)
	}
}

func TestFlashLogRejectsOversizedBody(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxBodyBytes = 32
	handler := newHandler(t, cfg)

	rec := submit(t, handler, api.FlashReport{Project: "demo", Error: strings.Repeat("x", 100)})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestFlashLogRejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AllowedOrigins = []string{"https://flasher.example.org"}
	handler := newHandler(t, cfg)

	body, _ := json.Marshal(api.FlashReport{Project: "demo", Success: true})
	req := httptest.NewRequest(http.MethodPost, "/api/flash-log", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:52100"
	req.Header.Set("Origin", "https://evil.example.org")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestFlashCounts(t *testing.T) {
	handler := newHandler(t, testConfig(t))
	submit(t, handler, api.FlashReport{Project: "a", Success: true})
	submit(t, handler, api.FlashReport{Project: "b", Success: false, Error: "boom"})

	rec := get(t, handler, "/api/flash-counts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
	var counts map[string]api.Counters
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if counts["a"].Success != 1 || counts["b"].Failed != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestFlashErrorsFilteringAndPaging(t *testing.T) {
	handler := newHandler(t, testConfig(t))
	for i := 0; i < 3; i++ {
		submit(t, handler, api.FlashReport{Project: "a", Success: false, Error: "timeout"})
	}
	submit(t, handler, api.FlashReport{Project: "b", Success: false, Error: "access denied"})

	rec := get(t, handler, "/api/flash-errors?category=connection_timeout&limit=2")
	var page api.ErrorLogPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 3 || len(page.Entries) != 2 || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}
	if page.Filters.Category != "connection_timeout" {
		t.Fatalf("filters = %+v", page.Filters)
	}

	rec = get(t, handler, "/api/flash-errors?project=b")
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || page.Entries[0].Category != "port_busy" {
		t.Fatalf("project page = %+v", page)
	}
}

func TestFlashErrorsRejectsInvalidCategory(t *testing.T) {
	handler := newHandler(t, testConfig(t))
	rec := get(t, handler, "/api/flash-errors?category=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFlashErrorsSummary(t *testing.T) {
	handler := newHandler(t, testConfig(t))
	submit(t, handler, api.FlashReport{Project: "a", Success: false, Error: "timeout"})
	submit(t, handler, api.FlashReport{Project: "a", Success: false, Error: "timed out"})

	rec := get(t, handler, "/api/flash-errors?summary=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summary api.ErrorSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalErrors != 2 {
		t.Fatalf("totalErrors = %d", summary.TotalErrors)
	}
	if summary.CategoryCounts["connection_timeout"] != 2 {
		t.Fatalf("categoryCounts = %+v", summary.CategoryCounts)
	}
	if summary.CategoryDescriptions["connection_timeout"] == "" {
		t.Fatal("missing category descriptions")
	}
	if summary.ProjectStats["a"]["connection_timeout"] != 2 {
		t.Fatalf("projectStats = %+v", summary.ProjectStats)
	}
}

func TestOptionsPreflight(t *testing.T) {
	handler := newHandler(t, testConfig(t))
	req := httptest.NewRequest(http.MethodOptions, "/api/flash-log", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("missing preflight headers")
	}
}
