package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultExcerptChars bounds the JSON excerpt of one prompt
const DefaultExcerptChars = 8000

// Payload is the data half of one analysis request
type Payload struct {
	Records    []Record
	Stats      *UserStats
	Note       string
	ChunkIndex int
	ChunkCount int
}

// PromptBuilder renders category instructions and a bounded excerpt of the
// records into one request string.
type PromptBuilder struct {
	Preamble     string
	ExcerptChars int
}

// NewPromptBuilder uses the catalogue preamble
func NewPromptBuilder(cat *Catalogue, excerptChars int) *PromptBuilder {
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	return &PromptBuilder{Preamble: cat.Preamble, ExcerptChars: excerptChars}
}

// Build renders the prompt for one chunk of a category
func (b *PromptBuilder) Build(cat Category, p Payload) string {
	var sb strings.Builder

	sb.WriteString(b.Preamble)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "CATEGORY: %s\n", cat.Name)
	sb.WriteString(cat.Instructions)
	sb.WriteString("\n\n")

	if p.Stats != nil {
		stats, err := json.Marshal(p.Stats)
		if err == nil {
			sb.WriteString("AGGREGATE STATISTICS (all records, use for totals):\n")
			sb.Write(stats)
			sb.WriteString("\n\n")
		}
	}

	if p.Note != "" {
		fmt.Fprintf(&sb, "SAMPLING NOTE: %s\n\n", p.Note)
	}

	if p.ChunkCount > 1 {
		fmt.Fprintf(&sb, "This is chunk %d of %d. Only report objects present in this chunk.\n\n", p.ChunkIndex+1, p.ChunkCount)
	}

	data, shown := b.excerpt(p.Records)
	if shown < len(p.Records) {
		fmt.Fprintf(&sb, "DATA (%d of %d records, the rest omitted for size; report only the objects shown):\n", shown, len(p.Records))
	} else {
		fmt.Fprintf(&sb, "DATA (%d records):\n", len(p.Records))
	}
	sb.WriteString(data)
	sb.WriteString("\n")

	return sb.String()
}

// Budget is the excerpt size in characters
func (b *PromptBuilder) Budget() int {
	if b.ExcerptChars <= 0 {
		return DefaultExcerptChars
	}
	return b.ExcerptChars
}

// excerpt renders as many whole records as fit within Budget and reports
// how many it rendered. A first record too large on its own is cut and
// counts as not shown.
func (b *PromptBuilder) excerpt(records []Record) (string, int) {
	limit := b.Budget()
	var sb strings.Builder
	sb.WriteByte('[')
	used, shown := 2, 0
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			continue
		}
		n := utf8.RuneCount(data)
		if shown > 0 {
			n++
		}
		if used+n > limit {
			if shown == 0 {
				return string([]rune(string(data))[:min(limit, utf8.RuneCount(data))]) + "\n... (truncated)", 0
			}
			break
		}
		if shown > 0 {
			sb.WriteByte(',')
		}
		sb.Write(data)
		used += n
		shown++
	}
	sb.WriteByte(']')
	return sb.String(), shown
}
