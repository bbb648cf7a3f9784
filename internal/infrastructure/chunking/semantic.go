package chunking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

var (
	fenceRe    = regexp.MustCompile("(?s)```.*?```")
	headerRe   = regexp.MustCompile(`(?m)^#{1,6}\s`)
	sentenceRe = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)
	blankRe    = regexp.MustCompile(`\n\s*\n`)
)

const fencePlaceholder = "\x00FENCE%d\x00"

// SemanticSplitter produces size-bounded overlapping chunks. Split
// priority: structural hints, then top-level headers, then blank-line
// paragraphs, then sentence boundaries. Fenced code blocks are
// substituted with placeholders before splitting and restored after, so
// they are never cut mid-block.
type SemanticSplitter struct {
	chunkSize int
	overlap   int
	counter   *TokenCounter
}

func NewSemanticSplitter(chunkSize, overlap int, counter *TokenCounter) *SemanticSplitter {
	if chunkSize <= 0 {
		chunkSize = 600
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if counter == nil {
		counter = NewTokenCounter("")
	}
	return &SemanticSplitter{chunkSize: chunkSize, overlap: overlap, counter: counter}
}

func (s *SemanticSplitter) Chunk(text, title string, hints []domain.StructuralSpan) []domain.ChunkData {
	if len(hints) > 0 {
		return s.chunkFromHints(hints)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	protected, fences := protectFences(text)

	var pieces []string
	for _, section := range splitByHeaders(protected) {
		pieces = append(pieces, s.splitSection(section, fences)...)
	}

	return s.assemble(pieces, title)
}

func (s *SemanticSplitter) chunkFromHints(hints []domain.StructuralSpan) []domain.ChunkData {
	out := make([]domain.ChunkData, 0, len(hints))
	for i, span := range hints {
		content := strings.TrimSpace(span.Content)
		if content == "" {
			continue
		}
		out = append(out, domain.ChunkData{
			Index:      i,
			Content:    content,
			TokenCount: s.counter.Count(content),
			Metadata:   map[string]string{"span": span.Name, "strategy": "structural"},
		})
	}
	return out
}

// splitSection breaks one header section into budget-sized pieces,
// restoring fence placeholders so a fenced block lands whole inside a
// single piece.
func (s *SemanticSplitter) splitSection(section string, fences []string) []string {
	var pieces []string
	for _, para := range splitParagraphs(section) {
		para = restoreFences(para, fences)
		if s.counter.Count(para) <= s.chunkSize || containsFence(para) {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, s.splitBySentence(para)...)
	}
	return pieces
}

func (s *SemanticSplitter) splitBySentence(text string) []string {
	sentences := sentenceRe.FindAllString(text, -1)
	if joined := strings.Join(sentences, ""); strings.TrimSpace(joined) != strings.TrimSpace(text) {
		// Trailing fragment without terminal punctuation.
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), strings.TrimSpace(joined)))
		if rest != "" {
			sentences = append(sentences, rest)
		}
	}
	if len(sentences) == 0 {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder
	currentTokens := 0
	for _, sentence := range sentences {
		n := s.counter.Count(sentence)
		if currentTokens > 0 && currentTokens+n > s.chunkSize {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		current.WriteString(sentence)
		currentTokens += n
	}
	if strings.TrimSpace(current.String()) != "" {
		pieces = append(pieces, strings.TrimSpace(current.String()))
	}
	return pieces
}

// assemble packs pieces into chunks up to the token budget and injects
// the prior chunk's token tail as overlap.
func (s *SemanticSplitter) assemble(pieces []string, title string) []domain.ChunkData {
	var out []domain.ChunkData
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		content := strings.TrimSpace(current.String())
		current.Reset()
		currentTokens = 0
		if content == "" {
			return
		}
		chunk := domain.ChunkData{
			Index:      len(out),
			Content:    content,
			TokenCount: s.counter.Count(content),
			Metadata:   map[string]string{"strategy": "semantic"},
		}
		if title != "" {
			chunk.Metadata["title"] = title
		}
		if s.overlap > 0 && len(out) > 0 {
			tail := s.counter.Tail(out[len(out)-1].Content, s.overlap)
			if tail != "" && tail != content {
				chunk.Content = tail + "\n" + content
				chunk.TokenCount = s.counter.Count(chunk.Content)
				chunk.Metadata["overlap_tokens"] = fmt.Sprintf("%d", s.counter.Count(tail))
			}
		}
		out = append(out, chunk)
	}

	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		n := s.counter.Count(piece)
		if currentTokens > 0 && currentTokens+n > s.chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
		currentTokens += n
	}
	flush()
	return out
}

func protectFences(text string) (string, []string) {
	var fences []string
	protected := fenceRe.ReplaceAllStringFunc(text, func(block string) string {
		fences = append(fences, block)
		return fmt.Sprintf(fencePlaceholder, len(fences)-1)
	})
	return protected, fences
}

func restoreFences(text string, fences []string) string {
	for i, block := range fences {
		text = strings.ReplaceAll(text, fmt.Sprintf(fencePlaceholder, i), block)
	}
	return text
}

func containsFence(text string) bool {
	return strings.Contains(text, "```")
}

// splitByHeaders cuts on markdown header lines, keeping each header with
// its own section.
func splitByHeaders(text string) []string {
	locs := headerRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sections []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			sections = append(sections, text[prev:loc[0]])
		}
		prev = loc[0]
	}
	sections = append(sections, text[prev:])

	out := sections[:0]
	for _, section := range sections {
		if strings.TrimSpace(section) != "" {
			out = append(out, section)
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range blankRe.Split(text, -1) {
		if strings.TrimSpace(para) != "" {
			out = append(out, strings.TrimSpace(para))
		}
	}
	return out
}
