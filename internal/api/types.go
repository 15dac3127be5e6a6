// Package api holds the wire types shared by the telemetry daemon, its
// clients, and the on-disk stores.
package api

import "time"

// Counters tracks flash attempt outcomes for one project. Total is always
// Success + Failed.
type Counters struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// FlashReport is the body of a flash outcome submission. Website and Email
// are honeypot fields; genuine clients never populate them.
type FlashReport struct {
	Project  string            `json:"project"`
	Action   string            `json:"action,omitempty"`
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Category string            `json:"category,omitempty"`
	Context  map[string]string `json:"context,omitempty"`

	Website string `json:"website,omitempty"`
	Email   string `json:"email,omitempty"`
}

// FlashLogResponse acknowledges a flash report with the submitting project's
// updated counters.
type FlashLogResponse struct {
	Success bool     `json:"success"`
	Counts  Counters `json:"counts"`
}

// ErrorEntry is one recorded flash failure.
type ErrorEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Project   string            `json:"project"`
	Action    string            `json:"action"`
	Category  string            `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// ErrorFilters echoes the filters applied to an error log query.
type ErrorFilters struct {
	Category string `json:"category"`
	Project  string `json:"project"`
}

// ErrorLogPage is one page of recorded failures, newest first.
type ErrorLogPage struct {
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"hasMore"`
	Filters ErrorFilters `json:"filters"`
	Entries []ErrorEntry `json:"entries"`
}

// ErrorSummary aggregates the error log without returning entries.
// TotalErrors counts every failure ever recorded, including entries already
// rotated out of the capped log.
type ErrorSummary struct {
	LastUpdated          time.Time                   `json:"lastUpdated"`
	TotalErrors          int64                       `json:"totalErrors"`
	CategoryCounts       map[string]int64            `json:"categoryCounts"`
	CategoryDescriptions map[string]string           `json:"categoryDescriptions"`
	ProjectStats         map[string]map[string]int64 `json:"projectStats"`
}

// ErrorResponse is the uniform error body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
