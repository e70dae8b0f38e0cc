package ingestion

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrContentMissing marks a document locator that could not be opened or
// read. Document extraction is not best-effort: the caller must treat this
// as fatal for the whole load.
var ErrContentMissing = errors.New("document content missing")

// ExtractPDF extracts the text of every page of the PDF at path. Each page
// becomes one Unit tagged with the lecture locator so generated questions can
// be traced back to their source document.
func ExtractPDF(path, locator string) ([]Unit, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrContentMissing, locator, err)
	}
	defer file.Close()

	title := strings.TrimSuffix(filepath.Base(locator), filepath.Ext(locator))

	units := make([]Unit, 0, reader.NumPage())
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: extract page %d of %s: %v", ErrContentMissing, pageNum, locator, err)
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		units = append(units, Unit{
			SourceID:   locator,
			SourceType: SourceDocument,
			Document: StructuredDocument{
				Title: title,
				Page:  pageNum,
				Text:  normalizePlainText(text),
			},
		})
	}

	return units, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
