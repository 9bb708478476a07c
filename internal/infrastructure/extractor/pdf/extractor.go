package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the extracted plain text of one PDF page.
type Page struct {
	Num  int
	Text string
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractPages reads the PDF at path and returns per-page plain text. Pages
// with no extractable text are kept as empty entries so page numbering stays
// aligned with the printed bill.
func (e *Extractor) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages := make([]Page, 0, total)
	for num := 1; num <= total; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(num)
		if page.V.IsNull() {
			pages = append(pages, Page{Num: num})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", num, path, err)
		}
		pages = append(pages, Page{Num: num, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}
