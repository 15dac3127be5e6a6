package store

import (
	"errors"
	"log/slog"
	"strings"

	"kiln/internal/api"
	"kiln/internal/logging"
)

// CounterStore tracks per-project flash outcome counters in one JSON
// document keyed by project id.
type CounterStore struct {
	path     string
	maxBytes int64
	logger   *slog.Logger
}

// NewCounterStore creates the store. maxBytes of zero disables the size
// ceiling.
func NewCounterStore(path string, maxBytes int64, logger *slog.Logger) *CounterStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CounterStore{
		path:     path,
		maxBytes: maxBytes,
		logger:   logging.NewComponentLogger(logger, "counters"),
	}
}

// Increment records one flash outcome for a project and returns the
// project's updated counters. Total always equals Success + Failed.
func (s *CounterStore) Increment(project string, success bool) (api.Counters, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return api.Counters{}, errors.New("project is required")
	}

	var updated api.Counters
	err := withFileLock(s.path, func() error {
		counts := make(map[string]api.Counters)
		if _, err := readDocument(s.path, &counts); err != nil {
			return err
		}

		c := counts[project]
		c.Total++
		if success {
			c.Success++
		} else {
			c.Failed++
		}
		counts[project] = c

		if err := writeDocument(s.path, counts, s.maxBytes); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return api.Counters{}, err
	}

	s.logger.Debug("counter updated",
		logging.String(logging.FieldProject, project),
		logging.Bool("success", success),
		logging.Int64("total", updated.Total))
	return updated, nil
}

// All returns every project's counters.
func (s *CounterStore) All() (map[string]api.Counters, error) {
	counts := make(map[string]api.Counters)
	err := withFileLock(s.path, func() error {
		_, err := readDocument(s.path, &counts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
