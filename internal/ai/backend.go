package ai

import (
	"context"
	"log"

	"lexline/internal/domain"
)

// SuggestRequest carries the case facts for an advisory suggestion call.
type SuggestRequest struct {
	Facts string `json:"facts"`
	Area  string `json:"area"`
	Model string `json:"model,omitempty"`
}

// CasePayload is the assembled case data handed to the drafting call.
type CasePayload struct {
	Parties       []domain.Party  `json:"parties"`
	Area          string          `json:"area"`
	DocType       string          `json:"doc_type"`
	Facts         string          `json:"facts"`
	Requests      string          `json:"requests,omitempty"`
	Theses        []string        `json:"theses,omitempty"`
	Jurisprudence []string        `json:"jurisprudence,omitempty"`
	Meta          domain.CaseMeta `json:"meta"`
	Model         string          `json:"model,omitempty"`
}

// Update is one element of a generation progress stream.
type Update struct {
	Progress int    `json:"progress"`
	Log      string `json:"log,omitempty"`
}

// Backend is the external AI collaborator: one call proposes
// theses/jurisprudence, the other drafts the document while emitting
// progress. Both are black boxes to the engine.
type Backend interface {
	Suggest(ctx context.Context, req SuggestRequest) ([]domain.Suggestion, error)
	Generate(ctx context.Context, payload CasePayload, emit func(Update)) (string, error)
}

// Suggester wraps a Backend with the advisory failure contract: any
// error is swallowed into an empty result plus a logged warning, so
// suggestions never block wizard progress.
type Suggester struct {
	Backend Backend
	Logger  *log.Logger
}

func (s Suggester) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Suggest returns advisory suggestions, or nil when the backend fails.
func (s Suggester) Suggest(ctx context.Context, req SuggestRequest) []domain.Suggestion {
	out, err := s.Backend.Suggest(ctx, req)
	if err != nil {
		s.logger().Printf("WARNING: suggestion call failed (advisory, ignored): %v", err)
		return nil
	}
	return out
}
