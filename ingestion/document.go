package ingestion

import (
	"errors"
	"fmt"
	"strings"
)

// SourceType tags where a unit of content came from.
type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceAudio    SourceType = "audio"
)

// Selector narrows which source types a vector index is built over.
type Selector string

const (
	SelectDocument Selector = "document"
	SelectAudio    Selector = "audio"
	SelectBoth     Selector = "both"
)

var ErrInvalidSelector = errors.New("invalid source selector")

// ParseSelector normalizes the source selector parameter. The legacy
// spellings "pdf" and "video" are accepted as aliases.
func ParseSelector(raw string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "both":
		return SelectBoth, nil
	case "document", "pdf":
		return SelectDocument, nil
	case "audio", "video":
		return SelectAudio, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSelector, raw)
	}
}

func (s Selector) includesDocuments() bool { return s == SelectDocument || s == SelectBoth }
func (s Selector) includesAudio() bool     { return s == SelectAudio || s == SelectBoth }

// Document is the closed set of raw content payloads the pipeline accepts.
// Anything else must be rejected at the boundary rather than stringified.
type Document interface {
	isDocument()
}

// PlainText is unstructured extracted text, e.g. one transcript segment.
type PlainText struct {
	Text string
}

// StructuredDocument is text extracted from a paginated document.
type StructuredDocument struct {
	Title string
	Page  int
	Text  string
}

func (PlainText) isDocument()          {}
func (StructuredDocument) isDocument() {}

var ErrUnsupportedDocument = errors.New("unsupported document payload")

// NormalizeDocument converts a Document union member into plain text.
func NormalizeDocument(doc Document) (string, error) {
	switch d := doc.(type) {
	case PlainText:
		return d.Text, nil
	case StructuredDocument:
		return d.Text, nil
	case nil:
		return "", fmt.Errorf("%w: nil document", ErrUnsupportedDocument)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedDocument, doc)
	}
}

// Unit is one lecture's extractable material before chunking: a single
// document page or one contiguous transcript segment.
type Unit struct {
	SourceID   string
	SourceType SourceType
	Document   Document
}

// Chunk is a bounded, overlapping slice of extracted text, tagged with the
// unit it originated from. Chunks are the unit of retrieval.
type Chunk struct {
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Text       string     `json:"text"`
}
