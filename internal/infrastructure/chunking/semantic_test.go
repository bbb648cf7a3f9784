package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// heuristicCounter skips the BPE encoding so token counts are exactly
// word counts for short words.
func heuristicCounter() *TokenCounter { return &TokenCounter{} }

func TestChunkEmptyText(t *testing.T) {
	s := NewSemanticSplitter(10, 0, heuristicCounter())
	assert.Nil(t, s.Chunk("   \n\t", "doc", nil))
}

func TestChunkSingleSmallText(t *testing.T) {
	s := NewSemanticSplitter(50, 0, heuristicCounter())

	chunks := s.Chunk("one two three four five", "report", nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "one two three four five", chunks[0].Content)
	assert.Equal(t, 5, chunks[0].TokenCount)
	assert.Equal(t, "semantic", chunks[0].Metadata["strategy"])
	assert.Equal(t, "report", chunks[0].Metadata["title"])
}

func TestChunkSplitsParagraphsOverBudget(t *testing.T) {
	s := NewSemanticSplitter(10, 0, heuristicCounter())

	para := "one two three four five six seven eight"
	text := para + "\n\n" + strings.ReplaceAll(para, "one", "nine")

	chunks := s.Chunk(text, "", nil)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 10)
	}
}

func TestChunkOverlapInjectsPriorTail(t *testing.T) {
	s := NewSemanticSplitter(10, 3, heuristicCounter())

	first := "one two three four five six seven eight"
	second := "aa bb cc dd ee ff gg hh"
	chunks := s.Chunk(first+"\n\n"+second, "", nil)
	require.Len(t, chunks, 2)

	assert.Equal(t, first, chunks[0].Content)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "six seven eight\n"),
		"second chunk should start with the prior tail, got %q", chunks[1].Content)
	assert.Equal(t, "3", chunks[1].Metadata["overlap_tokens"])
}

func TestChunkKeepsFencedBlockWhole(t *testing.T) {
	s := NewSemanticSplitter(5, 0, heuristicCounter())

	fence := "```\nfn main one two three four five six seven eight nine\n```"
	text := "intro words here\n\n" + fence + "\n\nclosing words here"

	chunks := s.Chunk(text, "", nil)
	require.NotEmpty(t, chunks)

	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "fn main") {
			found = true
			assert.Equal(t, 2, strings.Count(c.Content, "```"),
				"fence must open and close inside one chunk: %q", c.Content)
		}
	}
	assert.True(t, found, "fenced block missing from output")
}

func TestChunkSplitsOnHeaders(t *testing.T) {
	s := NewSemanticSplitter(6, 0, heuristicCounter())

	text := "# First\nalpha beta gamma delta\n\n# Second\nepsil zeta eta theta"
	chunks := s.Chunk(text, "", nil)
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "# First"))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "# Second"))
}

func TestChunkFromStructuralHints(t *testing.T) {
	s := NewSemanticSplitter(600, 50, heuristicCounter())

	hints := []domain.StructuralSpan{
		{Name: "Sheet1", Content: "row one data"},
		{Name: "Sheet2", Content: "   "},
		{Name: "Sheet3", Content: "row three data"},
	}
	chunks := s.Chunk("ignored raw text", "workbook", hints)
	require.Len(t, chunks, 2)
	assert.Equal(t, "row one data", chunks[0].Content)
	assert.Equal(t, "structural", chunks[0].Metadata["strategy"])
	assert.Equal(t, "Sheet1", chunks[0].Metadata["span"])
	assert.Equal(t, "Sheet3", chunks[1].Metadata["span"])
}

func TestNewSemanticSplitterGuards(t *testing.T) {
	s := NewSemanticSplitter(0, -1, nil)
	assert.Equal(t, 600, s.chunkSize)
	assert.Equal(t, 0, s.overlap)
	require.NotNil(t, s.counter)

	s = NewSemanticSplitter(100, 200, heuristicCounter())
	assert.Equal(t, 25, s.overlap)
}
