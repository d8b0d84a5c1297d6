package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// SourceType identifies where a piece of knowledge came from.
type SourceType string

const (
	SourceTypeURL  SourceType = "url"
	SourceTypeFile SourceType = "file"
	SourceTypeText SourceType = "text"
	SourceTypeQA   SourceType = "qa"
)

// IsValid reports whether s is one of the known source types.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeURL, SourceTypeFile, SourceTypeText, SourceTypeQA:
		return true
	}
	return false
}

// Scope is the (agent, company) pair that owns a set of vectors.
type Scope struct {
	AgentID   string
	CompanyID string
}

func (s Scope) Validate() error {
	if s.AgentID == "" || s.CompanyID == "" {
		return ErrMissingScope
	}
	return nil
}

// ContentItem is a normalized source ready for chunking.
type ContentItem struct {
	SourceID   string
	SourceType SourceType
	Title      string
	URL        string
	Category   string
	Text       string
	Metadata   map[string]any
}

// ValidateContentItem checks an item before it enters the chunker.
func ValidateContentItem(item *ContentItem) error {
	if item == nil {
		return fmt.Errorf("content item cannot be nil")
	}
	if item.SourceID == "" {
		return fmt.Errorf("content item SourceID is required")
	}
	if !item.SourceType.IsValid() {
		return fmt.Errorf("content item SourceType is invalid: %s", item.SourceType)
	}
	if !utf8.ValidString(item.Text) {
		return fmt.Errorf("content item %s text is not valid UTF-8", item.SourceID)
	}
	return nil
}

// ChunkMetadata locates a chunk inside its source.
type ChunkMetadata struct {
	SourceID       string
	SourceType     SourceType
	ChunkIndex     int
	TotalChunks    int
	Category       string
	Title          string
	URL            string
	OriginalLength int
	// OverlapLength is the rune length of the prefix copied from the
	// previous chunk.
	OverlapLength int
	Extra         map[string]any
}

// Chunk is a retrieval-sized slice of a ContentItem.
type Chunk struct {
	Content  string
	Metadata ChunkMetadata
}

// Core returns the chunk content without the overlap prefix.
func (c Chunk) Core() string {
	if c.Metadata.OverlapLength <= 0 {
		return c.Content
	}
	runes := []rune(c.Content)
	if c.Metadata.OverlapLength >= len(runes) {
		return ""
	}
	return string(runes[c.Metadata.OverlapLength:])
}

// EmbeddedChunk is a chunk with its embedding attached.
type EmbeddedChunk struct {
	Chunk
	Embedding          []float32
	EmbeddingDimension int
	EmbeddingModel     string
}

// SourceRef is the denormalized source information stored with a vector.
type SourceRef struct {
	Type        SourceType
	URL         string
	Title       string
	Category    string
	ChunkIndex  int
	TotalChunks int
}

// VectorRecord is a stored embedding owned by a Scope.
type VectorRecord struct {
	ID                 string
	AgentID            string
	CompanyID          string
	Content            string
	Embedding          []float32
	EmbeddingDimension int
	EmbeddingModel     string
	Metadata           map[string]any
	Source             SourceRef
	CreatedAt          time.Time
}

// SearchResult is a VectorRecord scored against a query.
type SearchResult struct {
	VectorRecord
	Similarity float64
}

// VectorFilter narrows a delete or search to part of a scope.
// Zero fields match everything.
type VectorFilter struct {
	SourceType  SourceType
	Category    string
	SourceURL   string
	SourceTitle string
	// KnowledgeID matches the MetadataKnowledgeID key of the stored metadata.
	KnowledgeID string
}

// IsEmpty reports whether the filter matches the whole scope.
func (f VectorFilter) IsEmpty() bool {
	return f.SourceType == "" && f.Category == "" && f.SourceURL == "" && f.SourceTitle == "" && f.KnowledgeID == ""
}

// VectorStats summarizes a scope's stored vectors.
type VectorStats struct {
	TotalVectors       int
	TotalContentLength int64
	AvgContentLength   float64
	SourceTypes        []SourceType
	Categories         []string
	EmbeddingDimension int
}

// NewVectorRecord builds the stored form of an embedded chunk.
func NewVectorRecord(id string, scope Scope, ec EmbeddedChunk, createdAt time.Time) *VectorRecord {
	m := ec.Metadata
	metadata := map[string]any{
		"sourceId":       m.SourceID,
		"chunkIndex":     m.ChunkIndex,
		"totalChunks":    m.TotalChunks,
		"originalLength": m.OriginalLength,
		"overlapLength":  m.OverlapLength,
	}
	for k, v := range m.Extra {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	return &VectorRecord{
		ID:                 id,
		AgentID:            scope.AgentID,
		CompanyID:          scope.CompanyID,
		Content:            ec.Content,
		Embedding:          ec.Embedding,
		EmbeddingDimension: ec.EmbeddingDimension,
		EmbeddingModel:     ec.EmbeddingModel,
		Metadata:           metadata,
		Source: SourceRef{
			Type:        m.SourceType,
			URL:         m.URL,
			Title:       m.Title,
			Category:    m.Category,
			ChunkIndex:  m.ChunkIndex,
			TotalChunks: m.TotalChunks,
		},
		CreatedAt: createdAt,
	}
}
