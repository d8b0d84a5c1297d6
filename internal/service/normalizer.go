package service

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/extract"
)

const maxDerivedTitleRunes = 120

// RawSource is an unnormalized input: free text, a crawled page or an
// uploaded file. Files carry their bytes in Data.
type RawSource struct {
	SourceID    string
	Type        domain.SourceType
	Title       string
	URL         string
	Category    string
	Text        string
	FileName    string
	ContentType string
	Data        []byte
	Metadata    map[string]any
}

// Normalizer turns raw sources into content items.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer() *Normalizer {
	return &Normalizer{logger: slog.Default().With("component", "normalizer")}
}

// Normalize extracts and cleans the text of raw. A source left without text
// is a skippable item error.
func (n *Normalizer) Normalize(raw RawSource) (*domain.ContentItem, error) {
	if !raw.Type.IsValid() || raw.Type == domain.SourceTypeQA {
		return nil, domain.NewSkippableItemError("unsupported source type", domain.ErrInvalidSourceType)
	}

	text := raw.Text
	title := raw.Title
	if raw.Type == domain.SourceTypeFile {
		extracted, docTitle, err := extractFile(raw)
		if err != nil {
			return nil, domain.NewSkippableItemError("failed to extract document text", err)
		}
		text = extracted
		if title == "" {
			title = docTitle
		}
		// Extractors may emit stray bytes from broken fonts or encodings.
		if !utf8.ValidString(text) {
			n.logger.Warn("dropped invalid UTF-8 from extracted text", "source", raw.FileName)
			text = strings.ToValidUTF8(text, "")
		}
	} else if !utf8.ValidString(text) {
		return nil, domain.NewSkippableItemError("text is not valid UTF-8", fmt.Errorf("source %q", firstNonEmpty(raw.SourceID, raw.URL)))
	}
	text = CleanText(text)
	if text == "" {
		return nil, domain.NewSkippableItemError("no content after cleaning", nil)
	}

	if title == "" && raw.FileName != "" {
		title = strings.TrimSuffix(filepath.Base(raw.FileName), filepath.Ext(raw.FileName))
	}
	if title == "" && raw.URL != "" {
		title = extract.TitleFromURL(raw.URL)
	}
	if title == "" {
		title = firstLine(text)
	}

	sourceID := raw.SourceID
	if sourceID == "" {
		sourceID = raw.URL
	}
	if sourceID == "" {
		sourceID = raw.FileName
	}
	if sourceID == "" {
		return nil, domain.NewSkippableItemError("source has no identifier", domain.ErrMissingRequiredField)
	}

	category := raw.Category
	if category == "" {
		category = "general"
	}

	return &domain.ContentItem{
		SourceID:   sourceID,
		SourceType: raw.Type,
		Title:      title,
		URL:        raw.URL,
		Category:   category,
		Text:       text,
		Metadata:   raw.Metadata,
	}, nil
}

// NormalizeAll normalizes every source, collecting failures per item.
func (n *Normalizer) NormalizeAll(raws []RawSource) ([]*domain.ContentItem, []domain.ItemError) {
	var (
		items []*domain.ContentItem
		errs  []domain.ItemError
	)
	for i, raw := range raws {
		item, err := n.Normalize(raw)
		if err != nil {
			label := raw.SourceID
			if label == "" {
				label = raw.URL
			}
			if label == "" {
				label = fmt.Sprintf("item-%d", i)
			}
			errs = append(errs, domain.ItemError{Item: label, Error: err.Error()})
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

func extractFile(raw RawSource) (text, title string, err error) {
	switch documentKind(raw.ContentType, raw.FileName) {
	case "pdf":
		text, err = extract.PDF(raw.Data)
		return text, "", err
	case "html":
		page, err := extract.HTML(bytes.NewReader(raw.Data))
		if err != nil {
			return "", "", err
		}
		return page.Text, page.Title, nil
	default:
		if !utf8.Valid(raw.Data) {
			return "", "", fmt.Errorf("document %q is not UTF-8 text", raw.FileName)
		}
		return string(raw.Data), "", nil
	}
}

func documentKind(contentType, fileName string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "application/pdf":
			return "pdf"
		case "text/html", "application/xhtml+xml":
			return "html"
		}
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "pdf"
	case ".html", ".htm":
		return "html"
	}
	return "text"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > maxDerivedTitleRunes {
		line = string([]rune(line)[:maxDerivedTitleRunes])
	}
	return line
}
