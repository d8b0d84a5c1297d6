package domain

import (
	"fmt"
	"time"
)

// IngestionJobStatus represents the status of an ingestion job
type IngestionJobStatus string

const (
	IngestionJobStatusPending    IngestionJobStatus = "pending"
	IngestionJobStatusProcessing IngestionJobStatus = "processing"
	IngestionJobStatusCompleted  IngestionJobStatus = "completed"
	IngestionJobStatusFailed     IngestionJobStatus = "failed"
)

// IngestionJob is a queued request to (re)ingest one knowledge item
type IngestionJob struct {
	ID          string
	KnowledgeID string
	Status      IngestionJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewIngestionJob creates a pending IngestionJob
func NewIngestionJob(id, knowledgeID string, createdAt time.Time) *IngestionJob {
	return &IngestionJob{
		ID:          id,
		KnowledgeID: knowledgeID,
		Status:      IngestionJobStatusPending,
		CreatedAt:   createdAt,
	}
}

// ValidateIngestionJob validates an IngestionJob instance
func ValidateIngestionJob(j *IngestionJob) error {
	if j == nil {
		return fmt.Errorf("ingestion job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("ingestion job ID is required")
	}

	if j.KnowledgeID == "" {
		return fmt.Errorf("ingestion job KnowledgeID is required")
	}

	if !isValidIngestionJobStatus(j.Status) {
		return fmt.Errorf("ingestion job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("ingestion job Retries cannot be negative")
	}

	return nil
}

func isValidIngestionJobStatus(s IngestionJobStatus) bool {
	switch s {
	case IngestionJobStatusPending, IngestionJobStatusProcessing,
		IngestionJobStatusCompleted, IngestionJobStatusFailed:
		return true
	}
	return false
}
