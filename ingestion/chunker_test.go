package ingestion

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	chunker := NewChunker(100, 20)

	chunks, err := chunker.Split([]Unit{
		{SourceID: "lecture.pdf", SourceType: SourceDocument, Document: PlainText{Text: "A short paragraph."}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "A short paragraph." {
		t.Fatalf("unexpected chunk text: %q", chunks[0].Text)
	}
	if chunks[0].SourceID != "lecture.pdf" || chunks[0].SourceType != SourceDocument {
		t.Fatalf("source tags not preserved: %+v", chunks[0])
	}
}

func TestSplitBlankUnitProducesNoChunks(t *testing.T) {
	chunker := NewChunker(100, 20)

	chunks, err := chunker.Split([]Unit{
		{SourceID: "empty.pdf", SourceType: SourceDocument, Document: PlainText{Text: "   \n\t  "}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitLongTextOverlaps(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog. "
	text := strings.Repeat(sentence, 40)

	chunker := NewChunker(200, 50)
	chunks, err := chunker.Split([]Unit{
		{SourceID: "long.pdf", SourceType: SourceDocument, Document: PlainText{Text: text}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk.Text) > 200 {
			t.Fatalf("chunk %d exceeds size limit: %d bytes", i, len(chunk.Text))
		}
	}

	// Consecutive chunks must share material so no sentence is stranded on a
	// boundary.
	first := chunks[0].Text
	second := chunks[1].Text
	tail := first[len(first)-20:]
	if !strings.Contains(second, strings.TrimSpace(tail)) {
		t.Fatalf("expected overlap between chunks, tail %q not found in %q", tail, second)
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("alpha beta gamma delta. ", 6)
	text := para + "\n\n" + para

	chunker := NewChunker(len(para)+40, 10)
	chunks, err := chunker.Split([]Unit{
		{SourceID: "doc.pdf", SourceType: SourceDocument, Document: PlainText{Text: text}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected a paragraph-boundary split, got %d chunks", len(chunks))
	}
	if strings.Contains(chunks[0].Text, "\n\n") {
		t.Fatalf("first chunk crosses the paragraph boundary: %q", chunks[0].Text)
	}
}

func TestSplitSeparatorFreeMultibyteText(t *testing.T) {
	// Unspaced CJK text has no separator to cut at; every chunk must still
	// land on a rune boundary or downstream consumers reject the text.
	text := strings.Repeat("学", 600)

	chunker := NewChunker(800, 120)
	chunks, err := chunker.Split([]Unit{
		{SourceID: "cjk.pdf", SourceType: SourceDocument, Document: PlainText{Text: text}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk.Text) {
			t.Fatalf("chunk %d is not valid UTF-8: %x", i, chunk.Text[:8])
		}
		if len(chunk.Text) > 800 {
			t.Fatalf("chunk %d exceeds size limit: %d bytes", i, len(chunk.Text))
		}
	}

	// The full corpus must survive: the last chunk ends where the text does.
	last := chunks[len(chunks)-1].Text
	if !strings.HasSuffix(text, last) {
		t.Fatal("tail of the text was lost")
	}
}

func TestSplitMixedScriptOverlapOnRuneBoundary(t *testing.T) {
	// ASCII prefix steers the overlap restart into multi-byte territory.
	text := strings.Repeat("a", 700) + strings.Repeat("ü", 300)

	chunker := NewChunker(761, 115)
	chunks, err := chunker.Split([]Unit{
		{SourceID: "mixed.txt", SourceType: SourceAudio, Document: PlainText{Text: text}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, chunk := range chunks {
		if !utf8.ValidString(chunk.Text) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestSplitRejectsUnknownDocument(t *testing.T) {
	chunker := NewChunker(100, 20)

	_, err := chunker.Split([]Unit{
		{SourceID: "bad", SourceType: SourceDocument, Document: nil},
	})
	if !errors.Is(err, ErrUnsupportedDocument) {
		t.Fatalf("expected ErrUnsupportedDocument, got %v", err)
	}
}

func TestNewChunkerDefaults(t *testing.T) {
	chunker := NewChunker(0, -1)
	if chunker.size != defaultChunkSize {
		t.Fatalf("expected default size %d, got %d", defaultChunkSize, chunker.size)
	}
	if chunker.overlap != defaultChunkOverlap {
		t.Fatalf("expected default overlap %d, got %d", defaultChunkOverlap, chunker.overlap)
	}
}
