package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"shiftbot/internal/bot"
	"shiftbot/internal/config"
	"shiftbot/internal/domain"
	"shiftbot/internal/metrics"
	"shiftbot/internal/registry"
	"shiftbot/internal/repo"
)

// EventHandler receives decoded chat events.
type EventHandler interface {
	HandleMessage(ctx context.Context, in bot.Inbound)
	HandleAction(ctx context.Context, ev bot.ActionEvent)
}

// Config for the HTTP handler.
type Config struct {
	Registry *registry.Registry
	Events   EventHandler
	App      *config.Config
	BasePath string
	Auth     AuthConfig
	Logger   zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"ou_123 is not allowed to view stats"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the bot's HTTP handler: the liveness probe, the platform
// webhook, metrics and the admin API under BasePath.
func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil || cfg.Events == nil {
		return nil, errors.New("server: registry and event handler are required")
	}
	if cfg.App == nil {
		cfg.App = config.Default()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	if basePath == "" {
		return nil, fmt.Errorf("server: base path %q must not be the root", cfg.BasePath)
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
	router.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "running")
	})
	router.Post("/webhook", newWebhookHandler(cfg.App, cfg.Events, cfg.Logger).ServeHTTP)
	router.Handle("/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("Shiftbot Admin API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.App)
	registerReports(group, cfg.Registry)
	registerLists(group, cfg.Registry)
	registerEvents(group, cfg.Registry)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe registry.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var te registry.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, registry.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	public := map[string]bool{path.Join(basePath, "health"): true, path.Join(basePath, "doctor"): true}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
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

func registerHealth(api huma.API, app *config.Config) {
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

	huma.Register(api, huma.Operation{
		OperationID: "doctor",
		Method:      http.MethodGet,
		Path:        "/doctor",
		Summary:     "Deployment self-check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body config.DoctorResult `json:"body"`
	}, error) {
		return &struct {
			Body config.DoctorResult `json:"body"`
		}{Body: app.Doctor()}, nil
	})
}

func registerReports(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Counts by status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "view stats"); err != nil {
			return nil, handleError(err)
		}
		st, err := reg.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workload",
		Method:      http.MethodGet,
		Path:        "/workload",
		Summary:     "Open and finished work per member",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Workload `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "view workload"); err != nil {
			return nil, handleError(err)
		}
		load, err := reg.Workload(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Workload `json:"body"`
		}{Body: nonNilSlice(load)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "roster",
		Method:      http.MethodGet,
		Path:        "/roster",
		Summary:     "Teams, admins and who is on duty now",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RosterResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "view roster"); err != nil {
			return nil, handleError(err)
		}
		ros, err := reg.Roster(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		admins, err := reg.Admins(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		responsible, err := reg.ResponsibleParties(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		ros.Day, ros.Night = nonNilSlice(ros.Day), nonNilSlice(ros.Night)
		return &struct {
			Body RosterResponse `json:"body"`
		}{Body: RosterResponse{Roster: ros, Admins: nonNilSlice(admins), Responsible: nonNilSlice(responsible)}}, nil
	})
}

func registerLists(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,in_progress,completed"`
	}) (*struct {
		Body []domain.Request `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "list requests"); err != nil {
			return nil, handleError(err)
		}
		items, err := reg.ListRequests(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Request `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get request with comments and approvals",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body struct {
			domain.Request
			Approvals []domain.Approval `json:"approvals"`
		} `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "view requests"); err != nil {
			return nil, handleError(err)
		}
		req, err := reg.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		approvals, err := reg.ListApprovals(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				domain.Request
				Approvals []domain.Approval `json:"approvals"`
			} `json:"body"`
		}{}
		out.Body.Request = req
		out.Body.Approvals = nonNilSlice(approvals)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"assigned,done"`
		AssigneeID string `query:"assignee_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "list tasks"); err != nil {
			return nil, handleError(err)
		}
		items, err := reg.ListTasks(ctx, repo.TaskFilters{Status: input.Status, AssigneeID: input.AssigneeID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reminders",
		Method:      http.MethodGet,
		Path:        "/reminders",
		Summary:     "List reminders",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OwnerID     string `query:"owner_id"`
		IncludeSent bool   `query:"include_sent"`
	}) (*struct {
		Body []domain.Reminder `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "list reminders"); err != nil {
			return nil, handleError(err)
		}
		items, err := reg.ListReminders(ctx, input.OwnerID, input.IncludeSent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Reminder `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerEvents(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind" enum:"request,task,approval,reminder,roster"`
		EntityID   int64  `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if err := requireAdmin(ctx, reg, "view events"); err != nil {
			return nil, handleError(err)
		}
		items, err := reg.AuditLog(ctx, normalizeLimit(input.Limit), input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventsResponse{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintln(w)
	}
}
