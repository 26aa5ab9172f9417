package lexlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Lexline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session mirrors the wizard snapshot (partial).
type Session struct {
	ID                  string       `json:"id"`
	AccountID           string       `json:"account_id"`
	Step                string       `json:"step"`
	ReturningFromReview bool         `json:"returning_from_review"`
	Parties             []Party      `json:"parties"`
	Area                string       `json:"area,omitempty"`
	DocType             string       `json:"doc_type,omitempty"`
	Facts               string       `json:"facts,omitempty"`
	Theses              []string     `json:"theses,omitempty"`
	Suggestions         []Suggestion `json:"suggestions,omitempty"`
	JobID               string       `json:"job_id,omitempty"`
	JobStatus           string       `json:"job_status,omitempty"`
	Progress            int          `json:"progress"`
	Logs                []string     `json:"logs,omitempty"`
	Text                string       `json:"text,omitempty"`
	LastFailure         string       `json:"last_failure,omitempty"`
	DocumentID          string       `json:"document_id,omitempty"`
}

type Party struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Origin string `json:"origin"`
}

type Suggestion struct {
	Kind       string  `json:"kind"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NextResult carries step validation outcome alongside the new snapshot.
type NextResult struct {
	Valid   bool     `json:"valid"`
	Errors  []string `json:"errors,omitempty"`
	Session Session  `json:"session"`
}

// GenerationStatus is the polling view of a running job.
type GenerationStatus struct {
	JobID       string   `json:"job_id,omitempty"`
	Status      string   `json:"status,omitempty"`
	Progress    int      `json:"progress"`
	Logs        []string `json:"logs"`
	Step        string   `json:"step"`
	LastFailure string   `json:"last_failure,omitempty"`
	DocumentID  string   `json:"document_id,omitempty"`
}

// Account is a credit account.
type Account struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Plan      string `json:"plan"`
	Balance   int64  `json:"balance"`
	Unlimited bool   `json:"unlimited"`
}

// Document is a finished draft.
type Document struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Area      string `json:"area"`
	DocType   string `json:"doc_type"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// OpenSession opens a wizard session for an account.
func (c *Client) OpenSession(ctx context.Context, accountID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v1/sessions", map[string]any{"account_id": accountID}, &resp)
	return resp, err
}

// Session fetches the current snapshot.
func (c *Client) Session(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, ""), nil, &resp)
	return resp, err
}

// CloseSession abandons a session.
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(id, ""), nil, nil)
}

// AddParty adds a manually-entered party.
func (c *Client) AddParty(ctx context.Context, sessionID, name, role string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "parties"), map[string]any{
		"name": name,
		"role": role,
	}, &resp)
	return resp, err
}

// AddPartyFromDirectory pulls a party from the client directory.
func (c *Client) AddPartyFromDirectory(ctx context.Context, sessionID, clientID, role string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "parties"), map[string]any{
		"client_id": clientID,
		"role":      role,
	}, &resp)
	return resp, err
}

// SetArea sets the legal area and document type.
func (c *Client) SetArea(ctx context.Context, sessionID, area, docType string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "area"), map[string]any{
		"area":     area,
		"doc_type": docType,
	}, &resp)
	return resp, err
}

// SetFacts sets the facts narrative and specific requests.
func (c *Client) SetFacts(ctx context.Context, sessionID, facts, requests string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "facts"), map[string]any{
		"facts":    facts,
		"requests": requests,
	}, &resp)
	return resp, err
}

// SetTheses sets theses and jurisprudence references.
func (c *Client) SetTheses(ctx context.Context, sessionID string, theses, jurisprudence []string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "theses"), map[string]any{
		"theses":        theses,
		"jurisprudence": jurisprudence,
	}, &resp)
	return resp, err
}

// Next validates the current step and advances on success.
func (c *Client) Next(ctx context.Context, sessionID string) (NextResult, error) {
	var resp NextResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "next"), nil, &resp)
	return resp, err
}

// Prev navigates back one step.
func (c *Client) Prev(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "prev"), nil, &resp)
	return resp, err
}

// RequestSuggestions fires an advisory suggestion call.
func (c *Client) RequestSuggestions(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "suggestions"), nil, nil)
}

// StartGeneration reserves a credit and starts drafting.
func (c *Client) StartGeneration(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "generation"), nil, &resp)
	return resp, err
}

// GenerationStatus polls job progress.
func (c *Client) GenerationStatus(ctx context.Context, sessionID string) (GenerationStatus, error) {
	var resp GenerationStatus
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "generation"), nil, &resp)
	return resp, err
}

// CancelGeneration cancels the running job.
func (c *Client) CancelGeneration(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodDelete, c.sessionPath(sessionID, "generation"), nil, &resp)
	return resp, err
}

// WaitForGeneration polls until the job settles or ctx expires.
func (c *Client) WaitForGeneration(ctx context.Context, sessionID string, interval time.Duration) (GenerationStatus, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	for {
		status, err := c.GenerationStatus(ctx, sessionID)
		if err != nil {
			return status, err
		}
		if status.Status == "succeeded" || status.Status == "failed" {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Account fetches a credit account.
func (c *Client) Account(ctx context.Context, id string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodGet, "v1/accounts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Document fetches a finished draft with its full text.
func (c *Client) Document(ctx context.Context, id string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, "v1/documents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(id, p string) string {
	endpoint := "v1/sessions/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
