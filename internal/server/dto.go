package server

import (
	"lexline/internal/domain"
	"lexline/internal/wizard"
)

// SessionResponse is the wizard snapshot as returned over the wire; the
// snapshot type already carries the schema tags.
type SessionResponse = wizard.Snapshot

// Request payloads

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type CreateAccountRequest struct {
	ID      *string `json:"id,omitempty"`
	OwnerID string  `json:"owner_id,omitempty"`
	Plan    string  `json:"plan,omitempty"`
}

type TopUpRequest struct {
	Amount int64 `json:"amount" minimum:"1"`
}

type SetPlanRequest struct {
	Plan string `json:"plan"`
}

type CreateClientRequest struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type OpenSessionRequest struct {
	AccountID string `json:"account_id"`
}

type AddPartyRequest struct {
	// ClientID pulls the party from the client directory; the remaining
	// fields are ignored when it is set.
	ClientID string `json:"client_id,omitempty"`
	Name     string `json:"name,omitempty"`
	TaxID    string `json:"tax_id,omitempty"`
	Address  string `json:"address,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Role     string `json:"role,omitempty"`
}

type SetPartyRoleRequest struct {
	Role string `json:"role" enum:"plaintiff,defendant"`
}

type SetAreaRequest struct {
	Area    string `json:"area"`
	DocType string `json:"doc_type"`
}

type SetFactsRequest struct {
	Facts    string `json:"facts"`
	Requests string `json:"requests,omitempty"`
}

type SetMetaRequest struct {
	DocketNumber string `json:"docket_number,omitempty"`
	Court        string `json:"court,omitempty"`
	Venue        string `json:"venue,omitempty"`
	CaseValue    string `json:"case_value,omitempty"`
}

type SetThesesRequest struct {
	Theses        []string `json:"theses,omitempty"`
	Jurisprudence []string `json:"jurisprudence,omitempty"`
}

type SetModelRequest struct {
	Model string `json:"model"`
}

// Response payloads

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type AccountResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Plan      string `json:"plan"`
	Balance   int64  `json:"balance"`
	Unlimited bool   `json:"unlimited"`
	ResetAt   string `json:"reset_at,omitempty" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type CreditStatusResponse struct {
	AccountID  string `json:"account_id"`
	Balance    int64  `json:"balance"`
	Unlimited  bool   `json:"unlimited"`
	Reserved   int    `json:"reserved"`
	Committed  int    `json:"committed"`
	CanConsume bool   `json:"can_consume"`
}

type AccountListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
}

type ClientListResponse struct {
	Clients []domain.ClientRecord `json:"clients"`
}

type DocumentListResponse struct {
	Documents  []DocumentSummary `json:"documents"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// DocumentSummary omits the text body; fetch a single document for it.
type DocumentSummary struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Area      string `json:"area"`
	DocType   string `json:"doc_type"`
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type APIKeyCreatedResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is shown exactly once; only its hash is stored.
	Key string `json:"key"`
}

type APIKeyListResponse struct {
	Keys []APIKeySummary `json:"keys"`
}

type APIKeySummary struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DirectoryResponse struct {
	Clients []domain.ClientRecord `json:"clients"`
}

type SuggestionsResponse struct {
	Requested bool `json:"requested"`
}

type NextResponse struct {
	Valid   bool            `json:"valid"`
	Errors  []string        `json:"errors,omitempty"`
	Session SessionResponse `json:"session"`
}

type GenerationStatusResponse struct {
	JobID       string           `json:"job_id,omitempty"`
	Status      domain.JobStatus `json:"status,omitempty"`
	Progress    int              `json:"progress"`
	Logs        []string         `json:"logs"`
	Step        domain.Step      `json:"step"`
	LastFailure string           `json:"last_failure,omitempty"`
	DocumentID  string           `json:"document_id,omitempty"`
}

func toAccountResponse(a domain.CreditAccount) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		OwnerID:   a.OwnerID,
		Plan:      a.Plan,
		Balance:   a.Balance,
		Unlimited: a.Unlimited(),
		ResetAt:   a.ResetAt,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toDocumentSummary(d domain.Document) DocumentSummary {
	return DocumentSummary{
		ID:        d.ID,
		AccountID: d.AccountID,
		SessionID: d.SessionID,
		Title:     d.Title,
		Area:      d.Area,
		DocType:   d.DocType,
		Model:     d.Model,
		CreatedAt: d.CreatedAt,
	}
}

func toAPIKeySummary(k domain.APIKey) APIKeySummary {
	return APIKeySummary{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
