// Package pdf extracts text page by page so chunks keep their page number.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns one entry per page. Pages without extractable text are
// empty strings so indexes stay aligned with page numbers.
func (e *Extractor) Extract(ctx context.Context, path string) ([]string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	found := false
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			found = true
		}
		pages = append(pages, text)
	}
	if !found {
		return nil, errors.New("pdf has no extractable text")
	}
	return pages, nil
}

func (e *Extractor) Paged() bool { return true }
