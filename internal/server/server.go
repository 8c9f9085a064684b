package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_checkpoint"`
	Message string         `json:"message" example:"no checkpoint has been reached"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"choice_id\":\"river\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Questline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", cfg.Engine.Metrics.Handler())
	hcfg := huma.DefaultConfig("Questline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCampaigns(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerPlay(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps coded domain errors onto HTTP statuses. Anything without
// a code is an internal error.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
	var details map[string]any
	if len(de.Metadata) > 0 {
		details = make(map[string]any, len(de.Metadata))
		for k, v := range de.Metadata {
			details[k] = v
		}
	}
	code := strings.ToLower(string(de.Code))
	msg := de.Message
	if msg == "" {
		msg = err.Error()
	}
	switch de.Code {
	case domain.CodeMalformedInput, domain.CodeDanglingReference, domain.CodeDuplicateIdentifier, domain.CodeUnreachableStart:
		return newAPIError(http.StatusBadRequest, code, msg, details)
	case domain.CodeUnknownChoice:
		return newAPIError(http.StatusUnprocessableEntity, code, msg, details)
	case domain.CodeInvalidOperation, domain.CodeNoForkToRetry, domain.CodeNoCheckpoint:
		return newAPIError(http.StatusConflict, code, msg, details)
	case domain.CodeNotFound:
		return newAPIError(http.StatusNotFound, code, msg, details)
	case domain.CodeForbidden:
		return newAPIError(http.StatusForbidden, code, msg, details)
	default:
		return newAPIError(http.StatusInternalServerError, code, msg, details)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Questline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCampaigns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-campaigns",
		Method:      http.MethodGet,
		Path:        "/campaigns",
		Summary:     "List loaded campaigns",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CampaignSummary `json:"body"`
	}, error) {
		items := []CampaignSummary{}
		for _, c := range e.ListCampaigns() {
			items = append(items, campaignSummary(c))
		}
		return &struct {
			Body []CampaignSummary `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-campaign",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}",
		Summary:     "Campaign map",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body CampaignResponse `json:"body"`
	}, error) {
		c, err := e.Campaign(input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CampaignResponse `json:"body"`
		}{Body: campaignResponse(c)}, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type sessionOutput struct {
	Body SessionResponse `json:"body"`
}

// loadOwnedSession fetches a session the caller may act on. Sessions of other
// players are reported as missing unless the caller is a game master.
func loadOwnedSession(ctx context.Context, e engine.Engine, id string) (Principal, domain.Session, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, domain.Session{}, authErr
	}
	s, err := e.GetSession(ctx, id)
	if err != nil {
		return principal, domain.Session{}, err
	}
	if !principal.CanAct(s.PlayerID) {
		return principal, domain.Session{}, domain.NewError(domain.CodeForbidden, "session %s belongs to another player", id)
	}
	return principal, s, nil
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start a session for the caller",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body"`
	}) (*sessionOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.StartSession(ctx, engine.StartOptions{CampaignID: input.Body.CampaignID, PlayerID: principal.PlayerID})
		if err != nil {
			return nil, handleError(err)
		}
		c, _ := e.Campaign(s.CampaignID)
		return &sessionOutput{Body: sessionResponse(c, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CampaignID string `query:"campaign_id"`
		PlayerID   string `query:"player_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		switch domain.SessionStatus(input.Status) {
		case "", domain.SessionActive, domain.SessionEnded, domain.SessionCompleted:
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		playerID := input.PlayerID
		if !principal.IsGameMaster() {
			if playerID != "" && playerID != principal.PlayerID {
				return nil, handleError(domain.NewError(domain.CodeForbidden, "cannot list sessions of %s", playerID))
			}
			playerID = principal.PlayerID
		}
		items, err := e.ListSessions(ctx, repo.SessionFilters{
			PlayerID:   playerID,
			CampaignID: input.CampaignID,
			Status:     domain.SessionStatus(input.Status),
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := []SessionResponse{}
		for _, s := range items {
			c, _ := e.Campaign(s.CampaignID)
			resp = append(resp, sessionResponse(c, s))
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Session status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		_, s, err := loadOwnedSession(ctx, e, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		c, _ := e.Campaign(s.CampaignID)
		return &sessionOutput{Body: sessionResponse(c, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-options",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/options",
		Summary:     "Recovery options currently available",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body OptionsResponse `json:"body"`
	}, error) {
		if _, _, err := loadOwnedSession(ctx, e, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		opts, err := e.RecoveryOptions(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OptionsResponse `json:"body"`
		}{Body: OptionsResponse{SessionID: input.SessionID, Options: opts}}, nil
	})
}

type transitionOutput struct {
	Body TransitionResponse `json:"body"`
}

func applyAction(ctx context.Context, e engine.Engine, sessionID string, a engine.Action) (*transitionOutput, error) {
	principal, _, err := loadOwnedSession(ctx, e, sessionID)
	if err != nil {
		return nil, handleError(err)
	}
	res, err := e.Apply(ctx, sessionID, principal.PlayerID, a)
	if err != nil {
		return nil, handleError(err)
	}
	c, _ := e.Campaign(res.Session.CampaignID)
	return &transitionOutput{Body: transitionResponse(c, res)}, nil
}

func registerPlay(api huma.API, e engine.Engine) {
	playErrors := []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID: "record-outcome",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/outcome",
		Summary:     "Report the result of the current linear or terminal encounter",
		Errors:      playErrors,
	}, func(ctx context.Context, input *struct {
		SessionID string         `path:"session_id"`
		Body      OutcomeRequest `json:"body"`
	}) (*transitionOutput, error) {
		return applyAction(ctx, e, input.SessionID, engine.Action{Op: engine.OpRecordOutcome, Success: input.Body.Success})
	})

	huma.Register(api, huma.Operation{
		OperationID: "make-choice",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/choice",
		Summary:     "Resolve the current fork",
		Errors:      append([]int{http.StatusUnprocessableEntity}, playErrors...),
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      ChoiceRequest `json:"body"`
	}) (*transitionOutput, error) {
		return applyAction(ctx, e, input.SessionID, engine.Action{Op: engine.OpMakeChoice, ChoiceID: input.Body.ChoiceID})
	})

	simple := []struct {
		id, path, summary string
		op                engine.Operation
	}{
		{"retry-fork", "/sessions/{session_id}/retry-fork", "Return to the most recent fork", engine.OpRetryFromFork},
		{"retry-checkpoint", "/sessions/{session_id}/retry-checkpoint", "Return to the most recent checkpoint", engine.OpRetryFromCheckpoint},
		{"start-over", "/sessions/{session_id}/start-over", "Restart from the campaign start", engine.OpStartOver},
		{"leave", "/sessions/{session_id}/leave", "End the session", engine.OpLeave},
	}
	for _, s := range simple {
		op := s.op
		huma.Register(api, huma.Operation{
			OperationID: s.id,
			Method:      http.MethodPost,
			Path:        s.path,
			Summary:     s.summary,
			Errors:      playErrors,
		}, func(ctx context.Context, input *sessionPath) (*transitionOutput, error) {
			return applyAction(ctx, e, input.SessionID, engine.Action{Op: op})
		})
	}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "session-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events",
		Summary:     "Session event log, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, _, err := loadOwnedSession(ctx, e, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilters{
			Type:       input.Type,
			EntityKind: "session",
			EntityID:   input.SessionID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		player := strings.TrimSpace(input.Body.PlayerID)
		if player == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "player_id is required", nil)
		}
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		token, err := signDevToken(authCfg.JWTSecret, player, input.Body.Roles, now)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 500:
		return 500
	default:
		return in
	}
}
