package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"lexline/internal/domain"
)

func registerSessions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "open-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Open a document wizard session",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body OpenSessionRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		accountID := strings.TrimSpace(input.Body.AccountID)
		if accountID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id is required", nil)
		}
		principal, authErr := requireAccountAccess(ctx, cfg, accountID)
		if authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.OpenSession(ctx, accountID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get the session snapshot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.Session(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Abandon a session, cancelling any running generation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		if err := cfg.Engine.CloseSession(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-party",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/parties",
		Summary:     "Add a party, manually or from the client directory",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body AddPartyRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		role := domain.Role(input.Body.Role)
		if role != "" {
			if err := domain.ValidateRole(role); err != nil {
				return nil, handleError(err)
			}
		}
		var snap SessionResponse
		var err error
		if input.Body.ClientID != "" {
			snap, err = cfg.Engine.AddPartyFromDirectory(ctx, input.ID, input.Body.ClientID, role)
		} else {
			if strings.TrimSpace(input.Body.Name) == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "name or client_id is required", nil)
			}
			snap, err = cfg.Engine.AddParty(ctx, input.ID, domain.Party{
				Name:    strings.TrimSpace(input.Body.Name),
				TaxID:   input.Body.TaxID,
				Address: input.Body.Address,
				City:    input.Body.City,
				State:   input.Body.State,
				Role:    role,
				Origin:  domain.OriginManual,
			})
		}
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-party",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}/parties/{partyID}",
		Summary:     "Remove a party",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		PartyID string `path:"partyID"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.RemoveParty(ctx, input.ID, input.PartyID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-party-role",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/parties/{partyID}/role",
		Summary:     "Assign a party's procedural role",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string              `path:"id"`
		PartyID string              `path:"partyID"`
		Body    SetPartyRoleRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		role := domain.Role(input.Body.Role)
		if err := domain.ValidateRole(role); err != nil {
			return nil, handleError(err)
		}
		snap, err := cfg.Engine.SetPartyRole(ctx, input.ID, input.PartyID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-directory",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/directory",
		Summary:     "List directory clients available to this session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DirectoryResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		clients, err := cfg.Engine.ListDirectory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DirectoryResponse `json:"body"`
		}{Body: DirectoryResponse{Clients: nonNilSlice(clients)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-area",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/area",
		Summary:     "Set the legal area and document type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetAreaRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.SetArea(ctx, input.ID, input.Body.Area, input.Body.DocType)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-facts",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/facts",
		Summary:     "Set the facts narrative and specific requests",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body SetFactsRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.SetFacts(ctx, input.ID, input.Body.Facts, input.Body.Requests)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-meta",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/meta",
		Summary:     "Set optional process metadata",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetMetaRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.SetMeta(ctx, input.ID, domain.CaseMeta{
			DocketNumber: input.Body.DocketNumber,
			Court:        input.Body.Court,
			Venue:        input.Body.Venue,
			CaseValue:    input.Body.CaseValue,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-theses",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/theses",
		Summary:     "Set theses and jurisprudence references",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetThesesRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.SetTheses(ctx, input.ID, input.Body.Theses, input.Body.Jurisprudence)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-model",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/model",
		Summary:     "Pick the drafting model",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body SetModelRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.SetModel(ctx, input.ID, input.Body.Model)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-next",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/next",
		Summary:     "Validate the current step and advance on success",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body NextResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		res, snap, err := cfg.Engine.GoNext(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NextResponse `json:"body"`
		}{Body: NextResponse{
			Valid:   res.Valid,
			Errors:  res.Errors,
			Session: snap,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-prev",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/prev",
		Summary:     "Navigate back one step",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.GoPrev(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-suggestions",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/suggestions",
		Summary:     "Request advisory AI suggestions; results land on the snapshot",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SuggestionsResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		if err := cfg.Engine.RequestSuggestions(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionsResponse `json:"body"`
		}{Body: SuggestionsResponse{Requested: true}}, nil
	})
}

func registerGeneration(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "start-generation",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/generation",
		Summary:     "Reserve a credit and start the generation job",
		Errors: []int{
			http.StatusPaymentRequired,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.StartGeneration(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generation-status",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/generation",
		Summary:     "Poll generation progress and logs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body GenerationStatusResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.Session(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerationStatusResponse `json:"body"`
		}{Body: GenerationStatusResponse{
			JobID:       snap.JobID,
			Status:      snap.JobStatus,
			Progress:    snap.Progress,
			Logs:        nonNilSlice(snap.Logs),
			Step:        snap.Step,
			LastFailure: snap.LastFailure,
			DocumentID:  snap.DocumentID,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-generation",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}/generation",
		Summary:     "Cancel the running generation job",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if _, authErr := requireSessionAccess(ctx, cfg, input.ID); authErr != nil {
			return nil, authErr
		}
		snap, err := cfg.Engine.CancelGeneration(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionBody(snap), nil
	})
}

func sessionBody(snap SessionResponse) *struct {
	Body SessionResponse `json:"body"`
} {
	snap.Parties = nonNilSlice(snap.Parties)
	return &struct {
		Body SessionResponse `json:"body"`
	}{Body: snap}
}
