package policy

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/gen2brain/go-fitz"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Corpus holds the company policy text split into overlapping chunks for
// retrieval. It is loaded once at startup and read-only afterwards.
type Corpus struct {
	chunks []string
}

// LoadCorpus extracts the text of a policy PDF and chunks it.
func LoadCorpus(pdfPath string) (*Corpus, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("opening policy PDF: %w", err)
	}
	defer doc.Close()

	var text strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("extracting text from page %d: %w", i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}

	chunks := splitChunks(text.String(), chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("policy PDF contains no extractable text")
	}

	return &Corpus{chunks: chunks}, nil
}

// NewCorpusFromText builds a corpus from raw text. Used in tests and for
// plain-text policy files.
func NewCorpusFromText(text string) *Corpus {
	return &Corpus{chunks: splitChunks(text, chunkSize, chunkOverlap)}
}

// splitChunks cuts text into windows of at most size runes with the given
// overlap between consecutive windows.
func splitChunks(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Retrieve returns the k chunks sharing the most terms with the query.
// Retrieval quality is deliberately modest; the chunks only seed the
// auditor prompt, they are not the verdict.
func (c *Corpus) Retrieve(query string, k int) []string {
	queryTerms := terms(query)

	type scored struct {
		chunk string
		score int
		idx   int
	}
	ranked := make([]scored, 0, len(c.chunks))
	for i, chunk := range c.chunks {
		chunkTerms := terms(chunk)
		score := 0
		for term := range queryTerms {
			if chunkTerms[term] {
				score++
			}
		}
		ranked = append(ranked, scored{chunk: chunk, score: score, idx: i})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, 0, k)
	for _, r := range ranked[:k] {
		out = append(out, r.chunk)
	}
	return out
}

// terms lowercases and splits text into its word set.
func terms(text string) map[string]bool {
	set := make(map[string]bool)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}
