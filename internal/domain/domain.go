package domain

import "fmt"

// Step is one stage of the document wizard. The order of Steps is the
// canonical forward order; backward navigation is always allowed.
type Step string

const (
	StepParty      Step = "party"
	StepArea       Step = "area"
	StepFacts      Step = "facts"
	StepProcess    Step = "process"
	StepTheses     Step = "theses"
	StepReview     Step = "review"
	StepGeneration Step = "generation"
	StepFinal      Step = "final"
)

// Steps lists every wizard step in forward order.
var Steps = []Step{
	StepParty,
	StepArea,
	StepFacts,
	StepProcess,
	StepTheses,
	StepReview,
	StepGeneration,
	StepFinal,
}

func (s Step) Index() int {
	for i, v := range Steps {
		if v == s {
			return i
		}
	}
	return -1
}

// Next returns the following step, or s itself when s is the last step.
func (s Step) Next() Step {
	i := s.Index()
	if i < 0 || i >= len(Steps)-1 {
		return s
	}
	return Steps[i+1]
}

// Prev returns the preceding step, or s itself when s is the first step.
func (s Step) Prev() Step {
	i := s.Index()
	if i <= 0 {
		return s
	}
	return Steps[i-1]
}

// Role is a party's procedural role in the case.
type Role string

const (
	RolePlaintiff Role = "plaintiff"
	RoleDefendant Role = "defendant"
)

// OppositeOf returns the inverse procedural role. Adverse parties default
// to the inverse of the primary client's role.
func OppositeOf(r Role) Role {
	if r == RolePlaintiff {
		return RoleDefendant
	}
	return RolePlaintiff
}

// PartyOrigin records whether a party came from the client directory or
// was typed in by hand.
type PartyOrigin string

const (
	OriginRegistered PartyOrigin = "registered"
	OriginManual     PartyOrigin = "manual"
)

// Party is a case participant. A registered party's ID refers to a record
// owned by the client directory and is read-only here.
type Party struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	TaxID   string      `json:"tax_id,omitempty"`
	Address string      `json:"address,omitempty"`
	City    string      `json:"city,omitempty"`
	State   string      `json:"state,omitempty"`
	Role    Role        `json:"role,omitempty" enum:"plaintiff,defendant"`
	Origin  PartyOrigin `json:"origin" enum:"registered,manual"`
}

// UnlimitedBalance is the sentinel meaning the account bypasses balance
// checks entirely.
const UnlimitedBalance = -1

// CreditAccount is the per-account generation quota. Balance never goes
// negative; unlimited accounts skip balance checks.
type CreditAccount struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Plan      string `json:"plan"`
	Balance   int64  `json:"balance"`
	ResetAt   string `json:"reset_at,omitempty" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Unlimited reports whether the account bypasses quota checks.
func (a CreditAccount) Unlimited() bool {
	return a.Balance == UnlimitedBalance
}

// Reservation is a pending, not-yet-committed credit hold keyed by job id.
type Reservation struct {
	JobID      string `json:"job_id"`
	AccountID  string `json:"account_id"`
	SessionID  string `json:"session_id"`
	ReservedAt string `json:"reserved_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

// JobStatus is the generation job lifecycle. succeeded and failed are
// terminal; a new attempt requires a new job id.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Suggestion is AI-proposed thesis or jurisprudence content. Advisory
// only: it never gates flow progress.
type Suggestion struct {
	Kind       string  `json:"kind" enum:"thesis,jurisprudence"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// CaseMeta carries optional process metadata collected by the wizard.
type CaseMeta struct {
	DocketNumber string `json:"docket_number,omitempty"`
	Court        string `json:"court,omitempty"`
	Venue        string `json:"venue,omitempty"`
	CaseValue    string `json:"case_value,omitempty"`
}

// Document is the finished artifact handed to the document store once the
// wizard reaches the final step.
type Document struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Area      string `json:"area"`
	DocType   string `json:"doc_type"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ClientRecord is a directory entry used to pre-populate the party
// registry. Owned by the client-management collaborator.
type ClientRecord struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	TaxID     string `json:"tax_id,omitempty"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only event log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	AccountID  string `json:"account_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey is a hashed API credential bound to an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidateRole rejects anything outside the closed role set.
func ValidateRole(r Role) error {
	switch r {
	case RolePlaintiff, RoleDefendant:
		return nil
	}
	return fmt.Errorf("invalid role %q", r)
}
