package firmware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kiln/internal/catalog"
	"kiln/internal/firmware"
)

func TestParseOffset(t *testing.T) {
	tests := []struct {
		input   string
		want    uint32
		wantErr bool
	}{
		{"0x10000", 0x10000, false},
		{"65536", 65536, false},
		{"0", 0, false},
		{"", 0, false},
		{"  0x1000  ", 0x1000, false},
		{"0xZZ", 0, true},
		{"-5", 0, true},
		{"4294967296", 0, true},
	}
	for _, tt := range tests {
		got, err := firmware.ParseOffset(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseOffset(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOffset(%q) returned error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOffset(%q) = %#x, want %#x", tt.input, got, tt.want)
		}
	}
}

func TestFetchDownloadsRemoteRefs(t *testing.T) {
	payload := strings.Repeat("firmware!", 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fw/app.bin" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(payload))
	}))
	defer server.Close()

	dir := t.TempDir()
	fetcher := firmware.New(dir, nil)

	var lastRead, lastTotal int64
	refs := []catalog.FirmwareRef{{Path: server.URL + "/fw/app.bin", Offset: "0x10000"}}
	images, err := fetcher.Fetch(context.Background(), "demo", refs, func(index int, read, total int64) {
		if index != 0 {
			t.Errorf("unexpected progress index %d", index)
		}
		if read < lastRead {
			t.Errorf("progress went backwards: %d after %d", read, lastRead)
		}
		lastRead, lastTotal = read, total
	})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
	img := images[0]
	if img.Offset != 0x10000 {
		t.Fatalf("offset = %#x", img.Offset)
	}
	if img.Size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", img.Size, len(payload))
	}
	// The handler never set Content-Length, so mid-download ticks carry
	// total=-1; the final tick must still report the exact size.
	if lastRead != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Fatalf("final progress %d/%d, want %d/%d", lastRead, lastTotal, len(payload), len(payload))
	}
	if filepath.Dir(img.Path) != filepath.Join(dir, "demo") {
		t.Fatalf("image staged at %s, want under project cache dir", img.Path)
	}
	data, err := os.ReadFile(img.Path)
	if err != nil {
		t.Fatalf("read staged image: %v", err)
	}
	if string(data) != payload {
		t.Fatal("staged image content mismatch")
	}
}

func TestFetchReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := firmware.New(t.TempDir(), nil)
	refs := []catalog.FirmwareRef{{Path: server.URL + "/missing.bin", Offset: "0"}}
	_, err := fetcher.Fetch(context.Background(), "demo", refs, nil)
	if err == nil {
		t.Fatal("expected error for HTTP 404")
	}
	if !strings.Contains(err.Error(), "failed to download") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestFetchUsesLocalFilesInPlace(t *testing.T) {
	dir := t.TempDir()
	localFile := filepath.Join(dir, "local.bin")
	if err := os.WriteFile(localFile, []byte("abc123"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher := firmware.New(t.TempDir(), nil)
	refs := []catalog.FirmwareRef{{Path: localFile, Offset: "0x1000"}}
	images, err := fetcher.Fetch(context.Background(), "demo", refs, nil)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if images[0].Path != localFile {
		t.Fatalf("local ref copied to %s, want in-place use", images[0].Path)
	}
	if images[0].Size != 6 || images[0].Offset != 0x1000 {
		t.Fatalf("image = %+v", images[0])
	}
}

func TestFetchRejectsBadOffset(t *testing.T) {
	fetcher := firmware.New(t.TempDir(), nil)
	refs := []catalog.FirmwareRef{{Path: "whatever.bin", Offset: "nope"}}
	if _, err := fetcher.Fetch(context.Background(), "demo", refs, nil); err == nil {
		t.Fatal("expected error for invalid offset")
	}
}
