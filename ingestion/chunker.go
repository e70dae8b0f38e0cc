package ingestion

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 120
)

// breakSeparators is the preference order for chunk boundaries: paragraph,
// then line, then sentence, then word.
var breakSeparators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits raw units into overlapping windows sized for embedding.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks every unit, preserving source tags. Units that normalize to
// whitespace produce no chunks. A unit whose payload is not a member of the
// Document union fails the whole split.
func (c *Chunker) Split(units []Unit) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(units))

	for _, unit := range units {
		text, err := NormalizeDocument(unit.Document)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", unit.SourceID, err)
		}

		for _, piece := range splitText(text, c.size, c.overlap) {
			chunks = append(chunks, Chunk{
				SourceID:   unit.SourceID,
				SourceType: unit.SourceType,
				Text:       piece,
			})
		}
	}

	return chunks, nil
}

// splitText cuts text into windows of at most size bytes, overlapping by
// roughly overlap bytes, preferring to cut at the strongest separator found
// in the back half of the window.
func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	chunks := make([]string, 0, len(text)/size+1)
	start := 0

	for start < len(text) {
		end := start + size
		if end >= len(text) {
			if tail := strings.TrimSpace(text[start:]); tail != "" {
				chunks = append(chunks, tail)
			}
			break
		}

		cut := findBreak(text, start, end)
		if piece := strings.TrimSpace(text[start:cut]); piece != "" {
			chunks = append(chunks, piece)
		}

		next := runeStart(text, cut-overlap)
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// findBreak looks backward from end for the best separator, refusing breaks
// in the front half of the window so chunks keep a useful minimum size. With
// no separator in the back half (unspaced scripts) it cuts at the nearest
// rune boundary instead of mid-rune.
func findBreak(text string, start, end int) int {
	window := text[start:end]
	minBreak := len(window) / 2

	for _, sep := range breakSeparators {
		idx := strings.LastIndex(window, sep)
		if idx > minBreak {
			return start + idx + len(sep)
		}
	}

	if cut := runeStart(text, end); cut > start {
		return cut
	}
	return end
}

// runeStart backs pos off to the nearest UTF-8 rune boundary at or before it.
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
