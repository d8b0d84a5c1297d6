package domain

import "time"

// ItemError records a per-item failure that did not abort its batch.
type ItemError struct {
	Item  string
	Error string
}

// IngestionResult summarizes one pipeline run.
type IngestionResult struct {
	Success        bool
	TotalItems     int
	TotalChunks    int
	TotalVectors   int
	ProcessingTime time.Duration
	Errors         []ItemError
}

// AddError appends a per-item failure.
func (r *IngestionResult) AddError(item string, err error) {
	r.Errors = append(r.Errors, ItemError{Item: item, Error: err.Error()})
}
