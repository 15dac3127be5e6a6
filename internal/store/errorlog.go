package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kiln/internal/api"
	"kiln/internal/errclass"
	"kiln/internal/logging"
)

// DefaultErrorPageLimit applies when a page query does not specify a limit.
const DefaultErrorPageLimit = 50

// MaxErrorPageLimit caps how many entries a single page may return.
const MaxErrorPageLimit = 500

type errorLogDocument struct {
	LastUpdated    time.Time        `json:"lastUpdated"`
	TotalErrors    int64            `json:"totalErrors"`
	CategoryCounts map[string]int64 `json:"categoryCounts"`
	Entries        []api.ErrorEntry `json:"entries"`
}

// ErrorLogStore keeps a capped, newest-first ring of flash failures plus
// running aggregates. TotalErrors and CategoryCounts only ever grow; entries
// rotate out once the ring is full.
type ErrorLogStore struct {
	path       string
	maxBytes   int64
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewErrorLogStore creates the store. maxEntries of zero falls back to the
// page ceiling; maxBytes of zero disables the size ceiling.
func NewErrorLogStore(path string, maxBytes int64, maxEntries int, logger *slog.Logger) *ErrorLogStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxEntries <= 0 {
		maxEntries = MaxErrorPageLimit
	}
	return &ErrorLogStore{
		path:       path,
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		logger:     logging.NewComponentLogger(logger, "errorlog"),
		now:        time.Now,
	}
}

// Append records one failure. Missing IDs and timestamps are filled in. When
// the document would exceed its size ceiling, the aggregates are still
// persisted and the entry itself is dropped.
func (s *ErrorLogStore) Append(entry api.ErrorEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if !errclass.Valid(errclass.Category(entry.Category)) {
		entry.Category = string(errclass.Classify(entry.Message))
	}

	return withFileLock(s.path, func() error {
		var doc errorLogDocument
		if _, err := readDocument(s.path, &doc); err != nil {
			return err
		}
		if doc.CategoryCounts == nil {
			doc.CategoryCounts = make(map[string]int64)
		}

		doc.TotalErrors++
		doc.CategoryCounts[entry.Category]++
		doc.LastUpdated = entry.Timestamp

		doc.Entries = append([]api.ErrorEntry{entry}, doc.Entries...)
		if len(doc.Entries) > s.maxEntries {
			doc.Entries = doc.Entries[:s.maxEntries]
		}

		err := writeDocument(s.path, doc, s.maxBytes)
		if errors.Is(err, ErrStoreFull) {
			// Keep the aggregates; shed oldest entries until the document fits.
			for len(doc.Entries) > 0 && errors.Is(err, ErrStoreFull) {
				doc.Entries = doc.Entries[:len(doc.Entries)-1]
				err = writeDocument(s.path, doc, s.maxBytes)
			}
			if err == nil {
				s.logger.Warn("error log at size ceiling, dropped oldest entries",
					logging.Int("remaining", len(doc.Entries)))
			}
		}
		return err
	})
}

// Page returns one filtered page of failures, newest first.
func (s *ErrorLogStore) Page(category, project string, limit, offset int) (api.ErrorLogPage, error) {
	if limit <= 0 {
		limit = DefaultErrorPageLimit
	}
	if limit > MaxErrorPageLimit {
		limit = MaxErrorPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	var doc errorLogDocument
	err := withFileLock(s.path, func() error {
		_, err := readDocument(s.path, &doc)
		return err
	})
	if err != nil {
		return api.ErrorLogPage{}, err
	}

	filtered := make([]api.ErrorEntry, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		if category != "" && entry.Category != category {
			continue
		}
		if project != "" && entry.Project != project {
			continue
		}
		filtered = append(filtered, entry)
	}

	page := api.ErrorLogPage{
		Total:   len(filtered),
		Limit:   limit,
		Offset:  offset,
		Filters: api.ErrorFilters{Category: category, Project: project},
		Entries: []api.ErrorEntry{},
	}
	if offset < len(filtered) {
		end := offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page.Entries = filtered[offset:end]
		page.HasMore = end < len(filtered)
	}
	return page, nil
}

// Summary aggregates the error log without returning entries. Project stats
// are computed from the entries still in the ring; category counts and the
// total cover everything ever recorded.
func (s *ErrorLogStore) Summary() (api.ErrorSummary, error) {
	var doc errorLogDocument
	err := withFileLock(s.path, func() error {
		_, err := readDocument(s.path, &doc)
		return err
	})
	if err != nil {
		return api.ErrorSummary{}, err
	}

	summary := api.ErrorSummary{
		LastUpdated:          doc.LastUpdated,
		TotalErrors:          doc.TotalErrors,
		CategoryCounts:       make(map[string]int64, len(doc.CategoryCounts)),
		CategoryDescriptions: make(map[string]string),
		ProjectStats:         make(map[string]map[string]int64),
	}
	for category, count := range doc.CategoryCounts {
		summary.CategoryCounts[category] = count
	}
	for category, description := range errclass.Descriptions() {
		summary.CategoryDescriptions[string(category)] = description
	}
	for _, entry := range doc.Entries {
		stats := summary.ProjectStats[entry.Project]
		if stats == nil {
			stats = make(map[string]int64)
			summary.ProjectStats[entry.Project] = stats
		}
		stats[entry.Category]++
	}
	return summary, nil
}
