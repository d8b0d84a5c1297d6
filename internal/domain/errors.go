package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Pipeline error codes
const (
	// ErrCodeSkippableItem marks a single source that was dropped without
	// failing the batch it belongs to.
	ErrCodeSkippableItem = "SKIPPABLE_ITEM"
	// ErrCodeProvider marks an embedding provider failure. Fatal to the batch.
	ErrCodeProvider = "PROVIDER_ERROR"
	// ErrCodeStorage marks a vector store failure. Fatal to the batch.
	ErrCodeStorage = "STORAGE_ERROR"
	// ErrCodeCrawl marks a failed fetch or extraction of a single URL.
	ErrCodeCrawl = "CRAWL_ERROR"
)

func NewSkippableItemError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeSkippableItem, message, err)
}

func NewProviderError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProvider, message, err)
}

func NewStorageError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStorage, message, err)
}

func NewCrawlError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeCrawl, message, err)
}

// HasCode reports whether any DomainError in err's chain carries code.
func HasCode(err error, code string) bool {
	var de *DomainError
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Validation errors
var (
	ErrMissingScope          = NewDomainError(ErrCodeValidation, "agentId and companyId are required")
	ErrInvalidSourceType     = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrInvalidKnowledgeType  = NewDomainError(ErrCodeValidation, "invalid knowledge type")
	ErrInvalidKnowledgeState = NewDomainError(ErrCodeValidation, "invalid knowledge status")
	ErrInvalidJobStatus      = NewDomainError(ErrCodeValidation, "invalid ingestion job status")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyQuery            = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrDimensionMismatch     = NewDomainError(ErrCodeValidation, "vector dimensions do not match")
)

// Not found errors
var (
	ErrKnowledgeNotFound    = NewDomainError(ErrCodeNotFound, "knowledge item not found")
	ErrIngestionJobNotFound = NewDomainError(ErrCodeNotFound, "ingestion job not found")
	ErrDocumentNotFound     = NewDomainError(ErrCodeNotFound, "document not found")
)

// Storage errors
var (
	ErrStorageOperationFail = NewDomainError(ErrCodeInternalError, "storage operation failed")
)
