package validate

import (
	"fmt"
	"strings"

	"lexline/internal/domain"
)

// Snapshot is the read-only view of a wizard session that step
// validation runs against.
type Snapshot struct {
	Parties   []domain.Party
	Area      string
	DocType   string
	Facts     string
	JobStatus domain.JobStatus
}

// Result reports whether a step's data is complete enough to advance.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func ok() Result { return Result{Valid: true} }

func fail(errs ...string) Result { return Result{Valid: false, Errors: errs} }

// predicates is the total mapping from step to its validation rule.
// Every member of domain.Steps must have an entry; IsStepValid panics
// otherwise, since a missing entry is a programming error.
var predicates = map[domain.Step]func(Snapshot) Result{
	domain.StepParty:      partyStep,
	domain.StepArea:       areaStep,
	domain.StepFacts:      factsStep,
	domain.StepProcess:    alwaysValid,
	domain.StepTheses:     alwaysValid,
	domain.StepReview:     reviewStep,
	domain.StepGeneration: jobSucceeded,
	domain.StepFinal:      jobSucceeded,
}

// IsStepValid is a pure predicate: no side effects, no caching. It is
// called on every forward-transition attempt and on entry to review.
func IsStepValid(step domain.Step, s Snapshot) Result {
	p, okStep := predicates[step]
	if !okStep {
		panic(fmt.Sprintf("no validation predicate for step %q", step))
	}
	return p(s)
}

func partyStep(s Snapshot) Result {
	var errs []string
	if len(s.Parties) == 0 {
		errs = append(errs, "at least one party is required")
	}
	for _, p := range s.Parties {
		if p.Role == "" {
			errs = append(errs, fmt.Sprintf("party %s has no role assigned", p.Name))
		}
	}
	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

func areaStep(s Snapshot) Result {
	var errs []string
	if s.Area == "" {
		errs = append(errs, "legal area is required")
	}
	if s.DocType == "" {
		errs = append(errs, "document type is required")
	}
	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

func factsStep(s Snapshot) Result {
	if strings.TrimSpace(s.Facts) == "" {
		return fail("case facts must not be empty")
	}
	return ok()
}

func alwaysValid(Snapshot) Result { return ok() }

// reviewStep re-checks every prior required step rather than trusting
// cached results, so stale data from backward navigation is caught. It
// calls the step predicates directly; routing back through IsStepValid
// would make the predicate table self-referential.
func reviewStep(s Snapshot) Result {
	var errs []string
	for _, check := range []func(Snapshot) Result{partyStep, areaStep, factsStep} {
		if res := check(s); !res.Valid {
			errs = append(errs, res.Errors...)
		}
	}
	if len(errs) > 0 {
		return fail(errs...)
	}
	return ok()
}

func jobSucceeded(s Snapshot) Result {
	if s.JobStatus != domain.JobSucceeded {
		return fail("document generation has not completed")
	}
	return ok()
}
