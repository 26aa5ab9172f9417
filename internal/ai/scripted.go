package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lexline/internal/domain"
)

// Scripted is a deterministic local backend used in dev mode and by the
// CLI default config. It drafts a skeleton document from the payload and
// emits the standard milestones.
type Scripted struct {
	// Delay is inserted between milestones so progress is observable;
	// zero keeps tests fast.
	Delay time.Duration
}

func (s Scripted) Suggest(ctx context.Context, req SuggestRequest) ([]domain.Suggestion, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	area := req.Area
	if area == "" {
		area = "civil"
	}
	return []domain.Suggestion{
		{Kind: "thesis", Text: fmt.Sprintf("Liability under general %s law principles", area), Confidence: 0.82},
		{Kind: "thesis", Text: "Objective damage presumed from the facts presented", Confidence: 0.64},
		{Kind: "jurisprudence", Text: fmt.Sprintf("Appellate precedent on %s disputes, reporter vol. 412", area), Confidence: 0.71},
	}, nil
}

func (s Scripted) Generate(ctx context.Context, payload CasePayload, emit func(Update)) (string, error) {
	milestones := []Update{
		{Progress: 10, Log: "analyzing facts"},
		{Progress: 45, Log: "drafting"},
		{Progress: 90, Log: "finalizing"},
	}
	for _, m := range milestones {
		if err := s.wait(ctx); err != nil {
			return "", err
		}
		emit(m)
	}
	if err := s.wait(ctx); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s — %s\n\n", strings.ToUpper(payload.DocType), payload.Area)
	for _, p := range payload.Parties {
		fmt.Fprintf(&b, "%s: %s\n", p.Role, p.Name)
	}
	fmt.Fprintf(&b, "\nFACTS\n%s\n", payload.Facts)
	if payload.Requests != "" {
		fmt.Fprintf(&b, "\nSPECIFIC REQUESTS\n%s\n", payload.Requests)
	}
	if len(payload.Theses) > 0 {
		fmt.Fprintf(&b, "\nGROUNDS\n- %s\n", strings.Join(payload.Theses, "\n- "))
	}
	if len(payload.Jurisprudence) > 0 {
		fmt.Fprintf(&b, "\nPRECEDENT\n- %s\n", strings.Join(payload.Jurisprudence, "\n- "))
	}
	if payload.Meta.DocketNumber != "" {
		fmt.Fprintf(&b, "\nDocket: %s\n", payload.Meta.DocketNumber)
	}
	return b.String(), nil
}

func (s Scripted) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.Delay):
		return nil
	}
}
