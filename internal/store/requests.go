package store

import (
	"errors"
	"fmt"
)

// MaxTotalCandidates bounds the candidates one generation may request
// across all models and repository search.
const MaxTotalCandidates = 10

// ModelOption enables one model and how many samples to draw from it.
type ModelOption struct {
	Name    string `json:"name"`
	Samples int    `json:"samples"`
}

// GenerationOptions is the user-tunable generation configuration carried
// both in requests and as a session's persisted settings.
type GenerationOptions struct {
	Models         []ModelOption `json:"models,omitempty"`
	SearchCount    int           `json:"searchCount,omitempty"`
	Criteria       []string      `json:"criteria,omitempty"`
	MaxTimeMinutes int           `json:"maxTimeMinutes,omitempty"`
}

// MinTimeMinutes is the smallest acceptable time budget for the given
// number of enabled models: two minutes per model, never less than two.
func MinTimeMinutes(modelCount int) int {
	if modelCount < 1 {
		return 2
	}
	return 2 * modelCount
}

// GenerationRequest asks the backend to generate candidate implementations
// for a session's described (and optionally LQL-specified) interface.
type GenerationRequest struct {
	SessionID   string `json:"sessionId"`
	Description string `json:"description"`
	LQL         string `json:"lql,omitempty"`
	Sequences   string `json:"sequences,omitempty"`
	GenerationOptions
}

// Validate checks request constraints before submission.
func (r *GenerationRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if r.Description == "" {
		return errors.New("description is required")
	}

	total := r.SearchCount
	for _, m := range r.Models {
		if m.Name == "" {
			return errors.New("model entry has no name")
		}
		if m.Samples < 1 {
			return fmt.Errorf("model %q requests %d samples, need at least 1", m.Name, m.Samples)
		}
		total += m.Samples
	}
	if total < 1 {
		return errors.New("no candidates requested")
	}
	if total > MaxTotalCandidates {
		return fmt.Errorf("requested %d candidates, maximum is %d", total, MaxTotalCandidates)
	}

	if min := MinTimeMinutes(len(r.Models)); r.MaxTimeMinutes < min {
		return fmt.Errorf("time budget %d min is below the %d min minimum for %d models",
			r.MaxTimeMinutes, min, len(r.Models))
	}

	seen := make(map[string]bool, len(r.Criteria))
	for _, c := range r.Criteria {
		if seen[c] {
			return fmt.Errorf("duplicate ranking criterion %q", c)
		}
		seen[c] = true
	}
	return nil
}

// RefinementRequest asks the backend to refine one previously generated
// candidate, carrying the cumulative conversation so far.
type RefinementRequest struct {
	SessionID string `json:"sessionId"`
	// Prompts is the ordered list of every user free-text turn so far.
	Prompts []string `json:"prompts"`
	// CandidateIndex selects which candidate to refine; zero when
	// unspecified and only one candidate exists.
	CandidateIndex int      `json:"candidateIndex"`
	Criteria       []string `json:"criteria,omitempty"`
	MaxTimeMinutes int      `json:"maxTimeMinutes,omitempty"`
}

// Validate checks request constraints before submission.
func (r *RefinementRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if len(r.Prompts) == 0 {
		return errors.New("refinement needs at least one prompt")
	}
	if r.CandidateIndex < 0 {
		return fmt.Errorf("candidate index %d is negative", r.CandidateIndex)
	}
	return nil
}
