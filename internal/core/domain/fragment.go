package domain

import "fmt"

// Fragment is one indexed unit of extracted bill text. Fragments are created
// at ingestion time and are read-only afterwards; ChunkID is stable across
// re-ingestion of unchanged content.
type Fragment struct {
	ChunkID     string  `json:"chunk_id"`
	Source      string  `json:"source"`
	PageStart   int     `json:"page_start"`
	PageEnd     int     `json:"page_end"`
	Heading     string  `json:"heading,omitempty"`
	Section     string  `json:"section,omitempty"`
	Text        string  `json:"text"`
	ContentHash string  `json:"content_hash,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Pages renders the page provenance the way citations display it.
func (f Fragment) Pages() string {
	if f.PageStart == f.PageEnd {
		return fmt.Sprintf("p.%d", f.PageStart)
	}
	return fmt.Sprintf("p.%d–%d", f.PageStart, f.PageEnd)
}

// IngestStats reports the outcome of one incremental corpus upsert.
// Re-ingesting unchanged content yields Added == 0 and Updated == 0.
type IngestStats struct {
	TotalInput int `json:"total_input"`
	Added      int `json:"added"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Deduped    int `json:"deduped"`
}

func (s IngestStats) Changed() bool {
	return s.Added > 0 || s.Updated > 0
}
