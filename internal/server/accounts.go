package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"lexline/internal/domain"
	"lexline/internal/events"
	"lexline/internal/repo"
)

func registerAccounts(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "create-account",
		Method:      http.MethodPost,
		Path:        "/accounts",
		Summary:     "Create a credit account",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAccountRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := strings.TrimSpace(input.Body.OwnerID)
		if owner == "" {
			owner = principal.ActorID
		}
		if owner != principal.ActorID && !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins create accounts for other actors", nil)
		}
		appCfg := cfg.Engine.Config
		plan := strings.TrimSpace(input.Body.Plan)
		if plan == "" {
			plan = appCfg.Credits.DefaultPlan
		}
		allowance, ok := appCfg.PlanAllowance(plan)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown plan "+plan, nil)
		}
		id := uuid.New().String()
		if input.Body.ID != nil && strings.TrimSpace(*input.Body.ID) != "" {
			id = strings.TrimSpace(*input.Body.ID)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		account := domain.CreditAccount{
			ID:        id,
			OwnerID:   owner,
			Plan:      plan,
			Balance:   allowance,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := cfg.Repo.InsertAccount(ctx, account); err != nil {
			return nil, handleError(err)
		}
		if err := appendEvent(ctx, cfg, "account.created", account.ID, "account", account.ID, principal.ActorID, events.EventPayload{
			"plan":    plan,
			"balance": allowance,
		}); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: toAccountResponse(account)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{id}",
		Summary:     "Get a credit account",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		if _, authErr := requireAccountAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		account, err := cfg.Repo.GetAccount(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: toAccountResponse(account)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "account-credits",
		Method:      http.MethodGet,
		Path:        "/accounts/{id}/credits",
		Summary:     "Credit standing: balance, live holds, whether a generation can start",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CreditStatusResponse `json:"body"`
	}, error) {
		if _, authErr := requireAccountAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		account, err := cfg.Repo.GetAccount(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		canConsume, err := cfg.Gate.CanConsume(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		reserved, err := cfg.Repo.CountReservations(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		committed, err := cfg.Repo.CountCommittedJobs(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreditStatusResponse `json:"body"`
		}{Body: CreditStatusResponse{
			AccountID:  account.ID,
			Balance:    account.Balance,
			Unlimited:  account.Unlimited(),
			Reserved:   reserved,
			Committed:  committed,
			CanConsume: canConsume,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-accounts",
		Method:      http.MethodGet,
		Path:        "/accounts",
		Summary:     "List credit accounts (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AccountListResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		accounts, err := cfg.Repo.ListAccounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AccountResponse, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, toAccountResponse(a))
		}
		return &struct {
			Body AccountListResponse `json:"body"`
		}{Body: AccountListResponse{Accounts: out}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "topup-account",
		Method:      http.MethodPost,
		Path:        "/accounts/{id}/topup",
		Summary:     "Add credits to an account (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body TopUpRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		if input.Body.Amount <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "amount must be positive", nil)
		}
		account, err := cfg.Repo.GetAccount(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if account.Unlimited() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account is unlimited", nil)
		}
		newBalance := account.Balance + input.Body.Amount
		if err := cfg.Repo.SetAccountBalance(ctx, input.ID, newBalance, account.ResetAt); err != nil {
			return nil, handleError(err)
		}
		if err := appendEvent(ctx, cfg, "account.topup", input.ID, "account", input.ID, principal.ActorID, events.EventPayload{
			"amount":  input.Body.Amount,
			"balance": newBalance,
		}); err != nil {
			return nil, handleError(err)
		}
		account.Balance = newBalance
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: toAccountResponse(account)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-account-plan",
		Method:      http.MethodPut,
		Path:        "/accounts/{id}/plan",
		Summary:     "Change an account's plan, resetting its balance (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetPlanRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		plan := strings.TrimSpace(input.Body.Plan)
		allowance, ok := cfg.Engine.Config.PlanAllowance(plan)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown plan "+plan, nil)
		}
		if err := cfg.Repo.SetAccountPlan(ctx, input.ID, plan, allowance); err != nil {
			return nil, handleError(err)
		}
		account, err := cfg.Repo.GetAccount(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := appendEvent(ctx, cfg, "account.plan_changed", input.ID, "account", input.ID, principal.ActorID, events.EventPayload{
			"plan":    plan,
			"balance": allowance,
		}); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: toAccountResponse(account)}, nil
	})
}

func registerClients(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "create-client",
		Method:      http.MethodPost,
		Path:        "/accounts/{id}/clients",
		Summary:     "Add a client directory entry",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body domain.ClientRecord `json:"body"`
	}, error) {
		principal, authErr := requireAccountAccess(ctx, cfg, input.ID)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		rec := domain.ClientRecord{
			ID:        uuid.New().String(),
			AccountID: input.ID,
			Name:      strings.TrimSpace(input.Body.Name),
			TaxID:     input.Body.TaxID,
			Address:   input.Body.Address,
			City:      input.Body.City,
			State:     input.Body.State,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := cfg.Repo.InsertClient(ctx, rec); err != nil {
			return nil, handleError(err)
		}
		if err := appendEvent(ctx, cfg, "client.created", input.ID, "client", rec.ID, principal.ActorID, nil); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ClientRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/accounts/{id}/clients",
		Summary:     "List client directory entries",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClientListResponse `json:"body"`
	}, error) {
		if _, authErr := requireAccountAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		clients, err := cfg.Repo.ListClients(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientListResponse `json:"body"`
		}{Body: ClientListResponse{Clients: nonNilSlice(clients)}}, nil
	})
}

func registerDocuments(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/accounts/{id}/documents",
		Summary:     "List generated documents, newest first",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" minimum:"1" maximum:"200" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body DocumentListResponse `json:"body"`
	}, error) {
		if _, authErr := requireAccountAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		createdAt, docID := splitCursor(input.Cursor)
		docs, err := cfg.Repo.ListDocumentsWithCursor(ctx, input.ID, input.Limit, createdAt, docID)
		if err != nil {
			return nil, handleError(err)
		}
		out := DocumentListResponse{Documents: make([]DocumentSummary, 0, len(docs))}
		for _, d := range docs {
			out.Documents = append(out.Documents, toDocumentSummary(d))
		}
		if input.Limit > 0 && len(docs) == input.Limit {
			last := docs[len(docs)-1]
			out.NextCursor = last.CreatedAt + "|" + last.ID
		}
		return &struct {
			Body DocumentListResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get a generated document with its full text",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		doc, err := cfg.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, authErr := requireAccountAccess(ctx, cfg, doc.AccountID); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/accounts/{id}/events",
		Summary:     "Tail the account event log, newest first",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		Limit    int    `query:"limit" minimum:"1" maximum:"500" default:"100"`
		BeforeID int64  `query:"before_id"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if _, authErr := requireAccountAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		evts, err := cfg.Repo.ListEvents(ctx, input.ID, input.Limit, input.BeforeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: nonNilSlice(evts)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-api-key",
		Method:      http.MethodPost,
		Path:        "/apikeys",
		Summary:     "Mint an API key (admin); the plaintext key is returned once",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		plaintext := "lx_" + strings.ReplaceAll(uuid.New().String(), "-", "")
		key := domain.APIKey{
			ID:        uuid.New().String(),
			ActorID:   actor,
			Name:      strings.TrimSpace(input.Body.Name),
			KeyHash:   repo.HashAPIKey(plaintext),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := cfg.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{
			ID:      key.ID,
			ActorID: key.ActorID,
			Name:    key.Name,
			Key:     plaintext,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body APIKeyListResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		keys, err := cfg.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeySummary, 0, len(keys))
		for _, k := range keys {
			out = append(out, toAPIKeySummary(k))
		}
		return &struct {
			Body APIKeyListResponse `json:"body"`
		}{Body: APIKeyListResponse{Keys: out}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete an API key (admin)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !principal.IsAdmin() {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		if err := cfg.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func appendEvent(ctx context.Context, cfg Config, evtType, accountID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := events.Writer{DB: cfg.Repo.DB}
	return w.Append(ctx, nil, evtType, accountID, entityKind, entityID, actorID, payload)
}

// splitCursor parses the "created_at|id" document cursor.
func splitCursor(cursor string) (string, string) {
	if cursor == "" {
		return "", ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
