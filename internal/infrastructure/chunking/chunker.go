package chunking

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
)

var (
	headingRe   = regexp.MustCompile(`(?i)^\s*(PART|CHAPTER|SECTION|SCHEDULE|EXPLANATORY\s+MEMORANDUM)\b`)
	sectionNoRe = regexp.MustCompile(`^\s*(\d{1,3})\s*[.)]\s+(.+)$`)
)

const maxHeadingDepth = 5

// Page is one page of extracted document text, 1-indexed to match the
// printed bill.
type Page struct {
	Num  int
	Text string
}

// Chunker splits legal documents into fragments along paragraph boundaries,
// carrying heading path, section number and page span so citations can point
// back into the printed text. Chunk ids are stable across re-ingestion runs
// as long as the document content is unchanged.
type Chunker struct {
	ChunkChars int
	Overlap    int
}

func NewChunker(chunkChars, overlap int) *Chunker {
	if chunkChars <= 0 {
		chunkChars = 1200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkChars {
		overlap = chunkChars / 4
	}
	return &Chunker{
		ChunkChars: chunkChars,
		Overlap:    overlap,
	}
}

// ChunkDocument builds fragments for one document. Paragraphs accumulate
// until the size threshold, then flush; the tail of each flushed fragment is
// carried into the next one as overlap context.
func (c *Chunker) ChunkDocument(fileName string, pages []Page) []domain.Fragment {
	var (
		out         []domain.Fragment
		cur         []string
		startPage   int
		endPage     int
		headingPath []string
		section     string
	)

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(cur, "\n\n"))
		if text == "" {
			cur = nil
			return
		}

		out = append(out, domain.Fragment{
			ChunkID:     fmt.Sprintf("%s::c%05d", fileName, len(out)),
			Source:      fileName,
			PageStart:   startPage,
			PageEnd:     endPage,
			Heading:     joinHeadings(headingPath),
			Section:     section,
			Text:        text,
			ContentHash: hashContent(text),
		})

		runes := []rune(text)
		if c.Overlap > 0 && len(runes) > c.Overlap {
			cur = []string{string(runes[len(runes)-c.Overlap:])}
			startPage = endPage
		} else {
			cur = nil
			startPage = 0
		}
		section = ""
	}

	for _, page := range pages {
		for _, para := range splitParagraphs(page.Text) {
			firstLine := para
			if idx := strings.IndexByte(para, '\n'); idx >= 0 {
				firstLine = para[:idx]
			}
			firstLine = strings.TrimSpace(firstLine)

			if headingRe.MatchString(firstLine) {
				headingPath = append(headingPath, firstLine)
			}
			if m := sectionNoRe.FindStringSubmatch(firstLine); m != nil {
				section = m[1]
			}

			if startPage == 0 {
				startPage = page.Num
			}
			endPage = page.Num
			cur = append(cur, para)

			if runeLen(cur) >= c.ChunkChars {
				flush()
			}
		}
	}
	flush()
	return out
}

func splitParagraphs(text string) []string {
	var paras []string
	var buf []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if len(buf) > 0 {
				paras = append(paras, strings.TrimSpace(strings.Join(buf, "\n")))
				buf = buf[:0]
			}
			continue
		}
		buf = append(buf, line)
	}
	if len(buf) > 0 {
		paras = append(paras, strings.TrimSpace(strings.Join(buf, "\n")))
	}
	return paras
}

func joinHeadings(path []string) string {
	if len(path) > maxHeadingDepth {
		path = path[len(path)-maxHeadingDepth:]
	}
	return strings.Join(path, " > ")
}

func runeLen(parts []string) int {
	total := 0
	for _, p := range parts {
		total += len([]rune(p))
	}
	return total
}

func hashContent(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
