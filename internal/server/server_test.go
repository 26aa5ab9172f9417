package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"lexline/internal/ai"
	"lexline/internal/config"
	"lexline/internal/credit"
	"lexline/internal/db"
	"lexline/internal/migrate"
	"lexline/internal/repo"
	"lexline/internal/wizard"
)

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	gate := credit.New(conn, cfg.ReservationTTL())
	engine := wizard.New(conn, cfg, gate, ai.Scripted{})
	handler, err := New(Config{
		Engine:   engine,
		Repo:     repo.Repo{DB: conn},
		Gate:     gate,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			EnableDevLogin:         true,
			AdminActors:            []string{"admin-user"},
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   repo.Repo{DB: conn},
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func createAccount(t *testing.T, srv *testServer, actor, plan string) AccountResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/accounts", map[string]any{
		"plan": plan,
	}, asActor(actor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create account: %d %s", res.StatusCode, string(data))
	}
	var account AccountResponse
	if err := json.Unmarshal(data, &account); err != nil {
		t.Fatalf("unmarshal account: %v", err)
	}
	return account
}

func openSession(t *testing.T, srv *testServer, actor, accountID string) SessionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions", map[string]any{
		"account_id": accountID,
	}, asActor(actor))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open session: %d %s", res.StatusCode, string(data))
	}
	var snap SessionResponse
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	return snap
}

func driveToReview(t *testing.T, srv *testServer, actor, sessionID string) {
	t.Helper()
	base := srv.URL + "/v1/sessions/" + sessionID
	for _, p := range []map[string]any{
		{"name": "Acme Corp", "role": "plaintiff"},
		{"name": "Bob Ltd", "role": "defendant"},
	} {
		if res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/parties", p, asActor(actor)); res.StatusCode != http.StatusOK {
			t.Fatalf("add party: %d %s", res.StatusCode, string(data))
		}
	}
	if res, data := doJSON(t, srv.Client(), http.MethodPut, base+"/area", map[string]any{
		"area": "civil", "doc_type": "initial petition",
	}, asActor(actor)); res.StatusCode != http.StatusOK {
		t.Fatalf("set area: %d %s", res.StatusCode, string(data))
	}
	if res, data := doJSON(t, srv.Client(), http.MethodPut, base+"/facts", map[string]any{
		"facts": "Goods were never delivered.",
	}, asActor(actor)); res.StatusCode != http.StatusOK {
		t.Fatalf("set facts: %d %s", res.StatusCode, string(data))
	}
	for i := 0; i < 5; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/next", nil, asActor(actor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("next: %d %s", res.StatusCode, string(data))
		}
		var next NextResponse
		if err := json.Unmarshal(data, &next); err != nil {
			t.Fatalf("unmarshal next: %v", err)
		}
		if !next.Valid {
			t.Fatalf("step invalid en route to review: %v", next.Errors)
		}
		if next.Session.Step == "review" {
			return
		}
	}
	t.Fatalf("never reached review")
}

func waitForJob(t *testing.T, srv *testServer, actor, sessionID string) GenerationStatusResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/sessions/"+sessionID+"/generation", nil, asActor(actor))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status: %d %s", res.StatusCode, string(data))
		}
		var status GenerationStatusResponse
		if err := json.Unmarshal(data, &status); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		if status.Status == "succeeded" || status.Status == "failed" {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job never settled")
	return GenerationStatusResponse{}
}

func TestFullWizardFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	account := createAccount(t, srv, "lawyer-1", "starter")
	if account.Balance != 10 {
		t.Fatalf("starter plan should seed 10 credits, got %d", account.Balance)
	}
	snap := openSession(t, srv, "lawyer-1", account.ID)
	driveToReview(t, srv, "lawyer-1", snap.ID)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/"+snap.ID+"/generation", nil, asActor("lawyer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start generation: %d %s", res.StatusCode, string(data))
	}
	status := waitForJob(t, srv, "lawyer-1", snap.ID)
	if status.Status != "succeeded" || status.Step != "final" {
		t.Fatalf("expected success, got %+v", status)
	}
	if status.DocumentID == "" {
		t.Fatalf("expected a document id")
	}

	docRes, docData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/documents/"+status.DocumentID, nil, asActor("lawyer-1"))
	if docRes.StatusCode != http.StatusOK {
		t.Fatalf("get document: %d %s", docRes.StatusCode, string(docData))
	}

	accRes, accData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/accounts/"+account.ID, nil, asActor("lawyer-1"))
	if accRes.StatusCode != http.StatusOK {
		t.Fatalf("get account: %d %s", accRes.StatusCode, string(accData))
	}
	var after AccountResponse
	_ = json.Unmarshal(accData, &after)
	if after.Balance != 9 {
		t.Fatalf("expected one credit consumed, got %d", after.Balance)
	}
}

func TestGenerationBeforeReviewConflicts(t *testing.T) {
	srv := newTestServer(t)
	account := createAccount(t, srv, "lawyer-1", "starter")
	snap := openSession(t, srv, "lawyer-1", account.ID)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/"+snap.ID+"/generation", nil, asActor("lawyer-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
}

func TestQuotaExceededReturns402(t *testing.T) {
	srv := newTestServer(t)
	account := createAccount(t, srv, "lawyer-1", "starter")
	snap := openSession(t, srv, "lawyer-1", account.ID)
	driveToReview(t, srv, "lawyer-1", snap.ID)

	// Drain the balance behind the API before starting.
	if err := srv.Repo.SetAccountBalance(context.Background(), account.ID, 0, ""); err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/"+snap.ID+"/generation", nil, asActor("lawyer-1"))
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "quota_exceeded" {
		t.Fatalf("expected quota_exceeded code, got %s", string(data))
	}
	// Session stays on review.
	getRes, getData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/sessions/"+snap.ID, nil, asActor("lawyer-1"))
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d", getRes.StatusCode)
	}
	var cur SessionResponse
	_ = json.Unmarshal(getData, &cur)
	if cur.Step != "review" {
		t.Fatalf("expected review step, got %s", cur.Step)
	}
}

func TestSessionIsolationBetweenActors(t *testing.T) {
	srv := newTestServer(t)
	account := createAccount(t, srv, "lawyer-1", "starter")
	snap := openSession(t, srv, "lawyer-1", account.ID)

	// A different actor cannot see the session; it 404s, not 403s.
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/sessions/"+snap.ID, nil, asActor("intruder"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d %s", res.StatusCode, string(data))
	}
	// An admin can.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/sessions/"+snap.ID, nil, asActor("admin-user"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin should see the session: %d %s", res.StatusCode, string(data))
	}
}

func TestAccountAccessControl(t *testing.T) {
	srv := newTestServer(t)
	account := createAccount(t, srv, "lawyer-1", "starter")

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/accounts/"+account.ID, nil, asActor("intruder"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign account, got %d", res.StatusCode)
	}
	// Admin-only topup rejected for the owner.
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/accounts/"+account.ID+"/topup", map[string]any{"amount": 5}, asActor("lawyer-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin topup, got %d", res.StatusCode)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/accounts/"+account.ID+"/topup", map[string]any{"amount": 5}, asActor("admin-user"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin topup failed: %d %s", res.StatusCode, string(data))
	}
	var after AccountResponse
	_ = json.Unmarshal(data, &after)
	if after.Balance != 15 {
		t.Fatalf("expected 15 after topup, got %d", after.Balance)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/accounts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestDevLoginIssuesWorkingToken(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "lawyer-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s", string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/whoami", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("whoami with token: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "lawyer-1" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}
}

func TestEventLogRecordsTheFlow(t *testing.T) {
	srv := newTestServer(t)
	account := createAccount(t, srv, "lawyer-1", "starter")
	snap := openSession(t, srv, "lawyer-1", account.ID)
	driveToReview(t, srv, "lawyer-1", snap.ID)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sessions/"+snap.ID+"/generation", nil, asActor("lawyer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start generation: %d %s", res.StatusCode, string(data))
	}
	waitForJob(t, srv, "lawyer-1", snap.ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/accounts/"+account.ID+"/events?limit=50", nil, asActor("lawyer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d %s", res.StatusCode, string(data))
	}
	var out EventListResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range out.Events {
		types[e.Type] = true
	}
	for _, want := range []string{"account.created", "session.created", "credits.reserved", "credits.committed", "generation.started", "generation.succeeded"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}
