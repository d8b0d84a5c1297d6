package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// QAPair is a curated question and answer.
type QAPair struct {
	ID       string
	Question string
	Answer   string
	Title    string
	// Metadata is copied onto the stored vector. Not persisted with the pair.
	Metadata map[string]any
}

// FormatQAContent renders a pair the way it is embedded and stored.
func FormatQAContent(question, answer string) string {
	return fmt.Sprintf("Question: %s\n\nAnswer: %s", question, answer)
}

// ValidateQAPair checks that both sides of the pair carry text.
func ValidateQAPair(p *QAPair) error {
	if p == nil {
		return fmt.Errorf("qa pair cannot be nil")
	}
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("qa pair question is required")
	}
	if strings.TrimSpace(p.Answer) == "" {
		return fmt.Errorf("qa pair answer is required")
	}
	return nil
}

// QAPairID derives a stable source id from the pair's text, so the same pair
// ingested twice gets the same id.
func QAPairID(question, answer string) string {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(question))
	h.Write([]byte{0})
	h.Write([]byte(answer))
	return "qa-" + hex.EncodeToString(h.Sum(nil))
}
