// Package firmware stages firmware binaries for flashing. Remote entries are
// downloaded into a local cache directory; local paths are used in place.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kiln/internal/catalog"
	"kiln/internal/flasher"
	"kiln/internal/logging"
)

// ProgressFunc receives download progress for the entry at index. total is -1
// while the server has not announced a length; the final tick for an entry
// always carries the exact size.
type ProgressFunc func(index int, read, total int64)

// Fetcher resolves catalog firmware references into flashable images.
type Fetcher struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// New creates a fetcher that caches downloads under dir.
func New(dir string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		dir:    dir,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logger.With(logging.String(logging.FieldComponent, "firmware")),
	}
}

// Fetch stages every reference and returns images in input order.
func (f *Fetcher) Fetch(ctx context.Context, projectID string, refs []catalog.FirmwareRef, progress ProgressFunc) ([]flasher.Image, error) {
	if len(refs) == 0 {
		return nil, errors.New("no firmware references")
	}

	images := make([]flasher.Image, 0, len(refs))
	for i, ref := range refs {
		offset, err := ParseOffset(ref.Offset)
		if err != nil {
			return nil, fmt.Errorf("firmware entry %d: %w", i, err)
		}

		var img flasher.Image
		if isRemote(ref.Path) {
			img, err = f.download(ctx, projectID, i, ref.Path, progress)
		} else {
			img, err = f.local(i, ref.Path, progress)
		}
		if err != nil {
			return nil, err
		}
		img.Offset = offset
		images = append(images, img)
	}
	return images, nil
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (f *Fetcher) local(index int, ref string, progress ProgressFunc) (flasher.Image, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return flasher.Image{}, fmt.Errorf("stat firmware file %s: %w", ref, err)
	}
	if progress != nil {
		progress(index, info.Size(), info.Size())
	}
	return flasher.Image{Path: ref, Size: info.Size()}, nil
}

func (f *Fetcher) download(ctx context.Context, projectID string, index int, rawURL string, progress ProgressFunc) (flasher.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return flasher.Image{}, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return flasher.Image{}, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return flasher.Image{}, fmt.Errorf("failed to download %s: HTTP %d", rawURL, resp.StatusCode)
	}

	destDir := filepath.Join(f.dir, projectID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return flasher.Image{}, fmt.Errorf("create firmware cache: %w", err)
	}
	dest := filepath.Join(destDir, remoteFileName(rawURL, index))

	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return flasher.Image{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	reader := io.Reader(resp.Body)
	if progress != nil {
		reader = &countingReader{
			inner: resp.Body,
			total: resp.ContentLength,
			tick: func(read, total int64) {
				progress(index, read, total)
			},
		}
	}

	written, err := io.Copy(tmp, reader)
	if err != nil {
		return flasher.Image{}, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	if progress != nil {
		// The size is known now even without a Content-Length header.
		progress(index, written, written)
	}
	if err := tmp.Close(); err != nil {
		return flasher.Image{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return flasher.Image{}, fmt.Errorf("stage firmware file: %w", err)
	}

	f.logger.Debug("firmware staged",
		logging.String("url", rawURL),
		logging.String("path", dest),
		logging.Int64("bytes", written))

	return flasher.Image{Path: dest, Size: written}, nil
}

// remoteFileName picks a cache file name from the URL path, prefixed with the
// entry index so two entries sharing a base name cannot collide.
func remoteFileName(rawURL string, index int) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "firmware.bin"
	}
	return fmt.Sprintf("%02d-%s", index, name)
}

type countingReader struct {
	inner io.Reader
	read  int64
	total int64
	tick  func(read, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.inner.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.tick(c.read, c.total)
	}
	return n, err
}

// ParseOffset parses a flash offset in decimal ("65536") or hex ("0x10000")
// form.
func ParseOffset(value string) (uint32, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	offset, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid flash offset %q: %w", value, err)
	}
	return uint32(offset), nil
}
