package domain

import (
	"fmt"
	"time"
)

// KnowledgeStatus tracks a knowledge item through ingestion.
type KnowledgeStatus string

const (
	KnowledgeStatusSaved      KnowledgeStatus = "saved"
	KnowledgeStatusProcessing KnowledgeStatus = "processing"
	KnowledgeStatusCompleted  KnowledgeStatus = "completed"
	KnowledgeStatusFailed     KnowledgeStatus = "failed"
)

// KnowledgeItem is a user-managed source that the ingestion worker turns
// into vectors. Type reuses the source types: text, url, file or qa.
type KnowledgeItem struct {
	ID        string
	AgentID   string
	CompanyID string
	Type      SourceType
	Status    KnowledgeStatus
	Title     string
	Category  string
	// Content holds the body for text items.
	Content string
	URL     string
	// DocumentKey is the object store key for file items.
	DocumentKey string
	ContentType string
	QAPairs     []QAPair
	VectorCount int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Scope returns the owner of the item's vectors.
func (k *KnowledgeItem) Scope() Scope {
	return Scope{AgentID: k.AgentID, CompanyID: k.CompanyID}
}

// NewKnowledgeItem creates a KnowledgeItem in the saved state.
func NewKnowledgeItem(id string, scope Scope, itemType SourceType, title string, now time.Time) *KnowledgeItem {
	return &KnowledgeItem{
		ID:        id,
		AgentID:   scope.AgentID,
		CompanyID: scope.CompanyID,
		Type:      itemType,
		Status:    KnowledgeStatusSaved,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateKnowledgeItem validates a KnowledgeItem instance
func ValidateKnowledgeItem(k *KnowledgeItem) error {
	if k == nil {
		return fmt.Errorf("knowledge item cannot be nil")
	}

	if k.ID == "" {
		return fmt.Errorf("knowledge item ID is required")
	}

	if err := k.Scope().Validate(); err != nil {
		return err
	}

	if !k.Type.IsValid() {
		return fmt.Errorf("knowledge item Type is invalid: %s", k.Type)
	}

	if !isValidKnowledgeStatus(k.Status) {
		return fmt.Errorf("knowledge item Status is invalid: %s", k.Status)
	}

	if k.Type != SourceTypeURL && k.Title == "" {
		return fmt.Errorf("%s knowledge item requires Title", k.Type)
	}

	switch k.Type {
	case SourceTypeText:
		if k.Content == "" {
			return fmt.Errorf("text knowledge item requires Content")
		}
	case SourceTypeURL:
		if k.URL == "" {
			return fmt.Errorf("url knowledge item requires URL")
		}
	case SourceTypeFile:
		if k.DocumentKey == "" {
			return fmt.Errorf("file knowledge item requires DocumentKey")
		}
	case SourceTypeQA:
		if len(k.QAPairs) == 0 {
			return fmt.Errorf("qa knowledge item requires at least one pair")
		}
	}

	return nil
}

func isValidKnowledgeStatus(s KnowledgeStatus) bool {
	switch s {
	case KnowledgeStatusSaved, KnowledgeStatusProcessing,
		KnowledgeStatusCompleted, KnowledgeStatusFailed:
		return true
	}
	return false
}

// MetadataKnowledgeID is the vector metadata key naming the knowledge item
// a vector was ingested for.
const MetadataKnowledgeID = "knowledgeId"

// VectorFilter selects the vectors produced by this item and no other, even
// when items in the scope share a title or URL.
func (k *KnowledgeItem) VectorFilter() VectorFilter {
	return VectorFilter{KnowledgeID: k.ID}
}

// VectorMetadata is attached to every vector ingested for the item.
func (k *KnowledgeItem) VectorMetadata() map[string]any {
	return map[string]any{MetadataKnowledgeID: k.ID}
}
