package domain

import "fmt"

type DocumentStatus string

const (
	StatusIngested    DocumentStatus = "ingested"
	StatusExtracting  DocumentStatus = "extracting"
	StatusClassifying DocumentStatus = "classifying"
	StatusChunking    DocumentStatus = "chunking"
	StatusEmbedding   DocumentStatus = "embedding"
	StatusGraphSync   DocumentStatus = "graph_sync"
	StatusReady       DocumentStatus = "ready"
	StatusFailed      DocumentStatus = "failed"
	StatusNeedsReview DocumentStatus = "needs_review"
)

// transitions enumerates every legal (from, to) edge. Forward pipeline
// edges, failed/needs_review reachable from every working state, and
// ready/failed re-enterable into ingested/extracting for retry.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusIngested:    {StatusExtracting, StatusFailed, StatusNeedsReview},
	StatusExtracting:  {StatusClassifying, StatusFailed, StatusNeedsReview},
	StatusClassifying: {StatusChunking, StatusFailed, StatusNeedsReview},
	StatusChunking:    {StatusEmbedding, StatusFailed, StatusNeedsReview},
	StatusEmbedding:   {StatusGraphSync, StatusFailed, StatusNeedsReview},
	StatusGraphSync:   {StatusReady, StatusFailed, StatusNeedsReview},
	StatusReady:       {StatusIngested, StatusExtracting, StatusNeedsReview},
	StatusFailed:      {StatusIngested, StatusExtracting},
	StatusNeedsReview: {StatusIngested, StatusExtracting, StatusFailed},
}

// workingStatuses are the non-terminal states a document can be stuck in
// after a worker crash.
var workingStatuses = []DocumentStatus{
	StatusIngested,
	StatusExtracting,
	StatusClassifying,
	StatusChunking,
	StatusEmbedding,
	StatusGraphSync,
}

func WorkingStatuses() []DocumentStatus {
	out := make([]DocumentStatus, len(workingStatuses))
	copy(out, workingStatuses)
	return out
}

func AllStatuses() []DocumentStatus {
	return []DocumentStatus{
		StatusIngested, StatusExtracting, StatusClassifying, StatusChunking,
		StatusEmbedding, StatusGraphSync, StatusReady, StatusFailed, StatusNeedsReview,
	}
}

// ValidateTransition reports whether current -> next is legal. Equal
// states are a no-op. Illegal pairs are a programming or race bug, not
// user-facing input.
func ValidateTransition(current, next DocumentStatus) error {
	if current == next {
		return nil
	}
	for _, allowed := range transitions[current] {
		if allowed == next {
			return nil
		}
	}
	return WrapError(ErrInvalidTransition, "validate transition",
		fmt.Errorf("%s -> %s", current, next))
}

// CanTransition is the boolean form of ValidateTransition.
func CanTransition(current, next DocumentStatus) bool {
	return ValidateTransition(current, next) == nil
}

// PipelineProgress maps a status to a coarse completion percentage for
// progress events.
func PipelineProgress(s DocumentStatus) int {
	switch s {
	case StatusIngested:
		return 0
	case StatusExtracting:
		return 10
	case StatusClassifying:
		return 30
	case StatusChunking:
		return 45
	case StatusEmbedding:
		return 60
	case StatusGraphSync:
		return 80
	case StatusReady:
		return 100
	default:
		return 0
	}
}
