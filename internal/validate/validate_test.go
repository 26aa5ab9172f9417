package validate_test

import (
	"strings"
	"testing"

	"lexline/internal/domain"
	"lexline/internal/validate"
)

func completeSnapshot() validate.Snapshot {
	return validate.Snapshot{
		Parties: []domain.Party{
			{ID: "p1", Name: "Acme Corp", Role: domain.RolePlaintiff},
			{ID: "p2", Name: "Bob Ltd", Role: domain.RoleDefendant},
		},
		Area:    "civil",
		DocType: "initial petition",
		Facts:   "The defendant failed to deliver.",
	}
}

func TestEveryStepHasAPredicate(t *testing.T) {
	s := completeSnapshot()
	s.JobStatus = domain.JobSucceeded
	for _, step := range domain.Steps {
		res := validate.IsStepValid(step, s)
		if !res.Valid {
			t.Fatalf("step %s invalid on complete snapshot: %v", step, res.Errors)
		}
	}
}

func TestPartyStepRequiresPartiesAndRoles(t *testing.T) {
	res := validate.IsStepValid(domain.StepParty, validate.Snapshot{})
	if res.Valid {
		t.Fatalf("empty party list must be invalid")
	}
	s := validate.Snapshot{Parties: []domain.Party{{ID: "p1", Name: "Acme Corp"}}}
	res = validate.IsStepValid(domain.StepParty, s)
	if res.Valid {
		t.Fatalf("party without role must be invalid")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "Acme Corp") {
		t.Fatalf("error should name the party: %v", res.Errors)
	}
}

func TestAreaStepCollectsBothErrors(t *testing.T) {
	res := validate.IsStepValid(domain.StepArea, validate.Snapshot{})
	if res.Valid || len(res.Errors) != 2 {
		t.Fatalf("expected two errors, got %v", res.Errors)
	}
}

func TestFactsStepRejectsWhitespace(t *testing.T) {
	res := validate.IsStepValid(domain.StepFacts, validate.Snapshot{Facts: "   \n\t"})
	if res.Valid {
		t.Fatalf("whitespace-only facts must be invalid")
	}
}

func TestProcessAndThesesAreOptional(t *testing.T) {
	for _, step := range []domain.Step{domain.StepProcess, domain.StepTheses} {
		if res := validate.IsStepValid(step, validate.Snapshot{}); !res.Valid {
			t.Fatalf("step %s should always be valid", step)
		}
	}
}

func TestReviewRechecksPriorSteps(t *testing.T) {
	s := completeSnapshot()
	if res := validate.IsStepValid(domain.StepReview, s); !res.Valid {
		t.Fatalf("complete snapshot should pass review: %v", res.Errors)
	}
	// Simulate backward navigation wiping the facts.
	s.Facts = ""
	res := validate.IsStepValid(domain.StepReview, s)
	if res.Valid {
		t.Fatalf("review must catch the cleared facts")
	}
}

func TestGenerationAndFinalRequireSuccess(t *testing.T) {
	s := completeSnapshot()
	for _, status := range []domain.JobStatus{"", domain.JobPending, domain.JobRunning, domain.JobFailed} {
		s.JobStatus = status
		if res := validate.IsStepValid(domain.StepGeneration, s); res.Valid {
			t.Fatalf("generation step valid with job status %q", status)
		}
	}
	s.JobStatus = domain.JobSucceeded
	if res := validate.IsStepValid(domain.StepFinal, s); !res.Valid {
		t.Fatalf("final step should be valid after success: %v", res.Errors)
	}
}

func TestUnknownStepPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown step")
		}
	}()
	validate.IsStepValid(domain.Step("mystery"), validate.Snapshot{})
}
