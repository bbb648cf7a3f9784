package chunking

import (
	"strings"
	"unicode"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
)

// Readability thresholds. IsReadable requires the combined score and
// every sub-metric to clear them simultaneously.
const (
	minReadableScore  = 0.5
	minAlnumRatio     = 0.5
	maxWhitespace     = 0.45
	maxNonASCIIRatio  = 0.4
	maxFragmentRatio  = 0.5
	minWordsPerLine   = 2.0
	fragPenaltyCutoff = 0.3
	nonASCIICutoff    = 0.3
)

// QualityScorer grades arbitrary text spans as a proxy for corrupted
// OCR output. Output annotates chunk metadata; it never blocks chunk
// creation.
type QualityScorer struct{}

func NewQualityScorer() *QualityScorer { return &QualityScorer{} }

func (s *QualityScorer) Grade(text string) domain.QualityReport {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.QualityReport{
			Score:      0,
			IsReadable: false,
			Reason:     "empty text",
			Metrics:    map[string]float64{},
		}
	}

	metrics := computeMetrics(trimmed)

	// Weighted base score from the positive signals.
	alnumScore := clamp01(metrics["alnum_ratio"] / 0.9)
	structureScore := clamp01(metrics["avg_words_per_line"] / 6.0)
	asciiScore := 1.0 - metrics["non_ascii_ratio"]
	score := 0.45*alnumScore + 0.25*structureScore + 0.30*asciiScore

	// Multiplicative penalties for detected artifacts.
	var reasons []string
	if frag := metrics["fragment_ratio"]; frag > fragPenaltyCutoff {
		score *= 1.0 - frag
		reasons = append(reasons, "fragmented tokens")
	}
	if nonASCII := metrics["non_ascii_ratio"]; nonASCII > nonASCIICutoff {
		score *= 1.0 - nonASCII
		reasons = append(reasons, "non-ascii density")
	}
	if ws := metrics["whitespace_ratio"]; ws > maxWhitespace {
		score *= 0.7
		reasons = append(reasons, "excess whitespace")
	}
	score = clamp01(score)

	readable := score >= minReadableScore &&
		metrics["alnum_ratio"] >= minAlnumRatio &&
		metrics["whitespace_ratio"] <= maxWhitespace &&
		metrics["non_ascii_ratio"] <= maxNonASCIIRatio &&
		metrics["fragment_ratio"] <= maxFragmentRatio

	reason := ""
	if !readable {
		if len(reasons) > 0 {
			reason = strings.Join(reasons, ", ")
		} else {
			reason = "below readability thresholds"
		}
	}

	return domain.QualityReport{
		Score:      score,
		IsReadable: readable,
		Reason:     reason,
		Metrics:    metrics,
	}
}

func computeMetrics(text string) map[string]float64 {
	var total, alnum, whitespace, nonASCII int
	for _, r := range text {
		total++
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			alnum++
		case unicode.IsSpace(r):
			whitespace++
		}
		if r > unicode.MaxASCII {
			nonASCII++
		}
	}

	lines := strings.Split(text, "\n")
	nonEmptyLines := 0
	totalWords := 0
	fragments := 0
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		nonEmptyLines++
		totalWords += len(words)
		for _, w := range words {
			if len(strings.Trim(w, ".,;:!?")) <= 2 {
				fragments++
			}
		}
	}

	metrics := map[string]float64{
		"alnum_ratio":        0,
		"whitespace_ratio":   0,
		"non_ascii_ratio":    0,
		"avg_words_per_line": 0,
		"fragment_ratio":     0,
	}
	if total > 0 {
		nonSpace := total - whitespace
		if nonSpace > 0 {
			metrics["alnum_ratio"] = float64(alnum) / float64(nonSpace)
			metrics["non_ascii_ratio"] = float64(nonASCII) / float64(nonSpace)
		}
		metrics["whitespace_ratio"] = float64(whitespace) / float64(total)
	}
	if nonEmptyLines > 0 {
		metrics["avg_words_per_line"] = float64(totalWords) / float64(nonEmptyLines)
	}
	if totalWords > 0 {
		metrics["fragment_ratio"] = float64(fragments) / float64(totalWords)
	}
	return metrics
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
