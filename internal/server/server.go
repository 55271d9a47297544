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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tareas/internal/backend"
	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
	"tareas/internal/events"
	"tareas/internal/photo"
	"tareas/internal/repo"
	"tareas/internal/scope"
	"tareas/internal/session"
)

// Config for the HTTP API handler.
type Config struct {
	// BackendURL is the REST backend every request is forwarded to.
	BackendURL string
	Timeout    time.Duration
	// Session supplies the workspace credentials for requests without a
	// bearer token and backs POST/DELETE /session.
	Session  *session.Manager
	Photos   photo.Source
	Repo     repo.Repo
	BasePath string
	Logger   *logrus.Logger
	Now      func() time.Time
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

func (c Config) client(tokens backend.TokenSource) *backend.Client {
	client := backend.New(c.BackendURL, tokens, c.Logger)
	client.Timeout = c.Timeout
	return client
}

func (c Config) engine(rs requestSession) engine.Engine {
	e := engine.New(rs.Client, c.Photos, events.Writer{DB: c.Repo.DB, Now: c.Now}, c.Logger)
	if c.Now != nil {
		e.Now = c.Now
	}
	return e
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"Debes adjuntar la foto de término."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"foto_fin\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task views.
func New(cfg Config) (http.Handler, error) {
	if cfg.BackendURL == "" {
		return nil, errors.New("backend url required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.BasePath = strings.TrimSuffix(basePath, "/")
	basePath = cfg.BasePath

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
	router.Use(newRequestLogger(cfg.logger()))
	router.Use(newGateMiddleware(cfg))
	hcfg := huma.DefaultConfig("Tareas API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSession(group, cfg)
	registerTasks(group, cfg)
	registerDashboard(group, cfg)
	registerForm(group, cfg)
	registerEvents(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// newRequestLogger logs one line per request with a correlation id.
func newRequestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"request_id": reqID,
				"elapsed_ms": time.Since(start).Milliseconds(),
			}).Info("request")
		})
	}
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
	switch {
	case errors.Is(err, scope.ErrLocked):
		return newAPIError(http.StatusUnprocessableEntity, "field_locked", err.Error(), nil)
	case errors.Is(err, scope.ErrOutOfScope):
		return newAPIError(http.StatusUnprocessableEntity, "out_of_scope", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", engine.Message(err), nil)
	case errors.Is(err, session.ErrInvalidLogin):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		if ve.Diagnostic != "" {
			details["diagnostic"] = ve.Diagnostic
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Message, details)
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return newAPIError(http.StatusNotFound, "not_found", "La tarea no existe o no es visible.", nil)
	}
	switch engine.Classify(err) {
	case engine.KindUnauthenticated:
		return newAPIError(http.StatusUnauthorized, "unauthenticated", engine.Message(err), nil)
	case engine.KindUnauthorized:
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			return newAPIError(http.StatusForbidden, "forbidden", engine.Message(err), map[string]any{"permission": fe.Permission})
		}
		return newAPIError(http.StatusForbidden, "forbidden", engine.Message(err), nil)
	case engine.KindValidation:
		details := map[string]any{}
		if apiErr != nil {
			details["diagnostic"] = apiErr.Body
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", engine.Message(err), details)
	}
	return newAPIError(http.StatusBadGateway, "backend_unavailable", engine.Message(err), map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusBadGateway:
		return "backend_unavailable"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
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
		path.Join(basePath, "health"):  true,
		path.Join(basePath, "session"): true,
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
<html lang="es">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Tareas API</title>
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
      Autentica con Authorization: Bearer &lt;token&gt; o con la sesión guardada del workspace.
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

func registerSession(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current session status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status := session.Resolver{Tokens: rs.Client.Tokens, Backend: rs.Client, Logger: cfg.Logger}.Resolve(ctx)
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(status)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/session",
		Summary:     "Log in and store the workspace session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if cfg.Session == nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "session storage not configured", nil)
		}
		anon := cfg.client(backend.StaticToken(""))
		if err := cfg.Session.Login(ctx, anon, strings.TrimSpace(input.Body.Username), input.Body.Password); err != nil {
			return nil, handleError(err)
		}
		client := cfg.client(cfg.Session)
		resp := sessionResponse(session.Resolver{Tokens: cfg.Session, Backend: client, Logger: cfg.Logger}.Resolve(ctx))
		if creds, err := cfg.Session.Credentials(ctx); err == nil {
			resp.Access = creds.Access
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodDelete,
		Path:          "/session",
		Summary:       "Forget the workspace session",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if cfg.Session == nil {
			return &struct{}{}, nil
		}
		if err := cfg.Session.Clear(ctx); err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tareas",
		Summary:     "List visible tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusSeeOther, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Estado string `query:"estado" doc:"all, open or closed"`
		Buscar string `query:"q" doc:"Substring of description, operator username or id"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filter, err := engine.ParseStateFilter(input.Estado)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"estado": input.Estado})
		}
		tasks, err := cfg.engine(rs).ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: taskListResponse(tasks, filter, input.Buscar, rs.Client.MediaURL)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tareas/{id}",
		Summary:     "Task detail",
		Errors:      []int{http.StatusNotFound, http.StatusSeeOther, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID int `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := cfg.engine(rs).GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, rs.Client.MediaURL)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tareas",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusSeeOther,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resolver := scope.NewResolver(rs.Client, cfg.Logger)
		form, err := resolver.Load(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		req := input.Body
		if err := resolver.Apply(ctx, form, scope.Selection{
			CompanyID:      req.EmpresaID,
			SiteID:         req.FaenaID,
			LocationID:     req.UbicacionID,
			OperatorID:     req.OperadorID,
			ParticipantIDs: req.Personas,
			VehicleIDs:     req.Vehiculos,
			ToolIDs:        req.Herramientas,
		}); err != nil {
			return nil, handleError(err)
		}
		t, err := cfg.engine(rs).CreateTask(ctx, form.CreateOptions(req.Descripcion, req.FotoInicio))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, rs.Client.MediaURL)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-task",
		Method:      http.MethodPost,
		Path:        "/tareas/{id}/cerrar",
		Summary:     "Close task with its end photo",
		Errors: []int{
			http.StatusSeeOther,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   int              `path:"id"`
		Body CloseTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e := cfg.engine(rs)
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err = e.CloseTask(ctx, t, engine.CloseOptions{
			EndPhoto: input.Body.FotoFin,
			Notes:    input.Body.Observaciones,
			Actor:    rs.Status.Identity.Username,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, rs.Client.MediaURL)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-task",
		Method:      http.MethodPatch,
		Path:        "/tareas/{id}",
		Summary:     "Edit task (administrators)",
		Errors: []int{
			http.StatusSeeOther,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   int             `path:"id"`
		Body EditTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e := cfg.engine(rs)
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		req := input.Body
		operatorID := req.OperadorID
		if operatorID == 0 && t.Operator != nil {
			operatorID = t.Operator.ID
		}
		t, err = e.EditTask(ctx, rs.Status.Identity, t, engine.EditOptions{
			Description:    req.Descripcion,
			Notes:          req.Observaciones,
			State:          domain.TaskState(req.Estado),
			OperatorID:     operatorID,
			ParticipantIDs: req.Personas,
			VehicleIDs:     req.Vehiculos,
			ToolIDs:        req.Herramientas,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, rs.Client.MediaURL)}, nil
	})
}

func registerDashboard(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Task metrics for administrators",
		Errors:      []int{http.StatusBadRequest, http.StatusSeeOther, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Estado string `query:"estado"`
		Buscar string `query:"q"`
	}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filter, err := engine.ParseStateFilter(input.Estado)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"estado": input.Estado})
		}
		tasks, err := cfg.engine(rs).ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		me := rs.Status.Identity
		breakdown := engine.OperatorBreakdown(tasks)
		if breakdown == nil {
			breakdown = []engine.OperatorCount{}
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: DashboardResponse{
			Bienvenida: fmt.Sprintf("Bienvenido, %s (%s)", me.DisplayName(), me.Username),
			Metricas:   engine.ComputeMetrics(tasks),
			Operadores: breakdown,
			Tareas:     taskListResponse(tasks, filter, input.Buscar, rs.Client.MediaURL),
		}}, nil
	})
}

func registerForm(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "task-form",
		Method:      http.MethodGet,
		Path:        "/formulario",
		Summary:     "Selectable values for a new task",
		Errors:      []int{http.StatusSeeOther, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		EmpresaID int `query:"empresa_id"`
		FaenaID   int `query:"faena_id"`
	}) (*struct {
		Body FormResponse `json:"body"`
	}, error) {
		rs, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resolver := scope.NewResolver(rs.Client, cfg.Logger)
		form, err := resolver.Load(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if input.EmpresaID != 0 || input.FaenaID != 0 {
			if err := resolver.Apply(ctx, form, scope.Selection{CompanyID: input.EmpresaID, SiteID: input.FaenaID}); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body FormResponse `json:"body"`
		}{Body: formResponse(form)}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/eventos",
		Summary:     "Local activity journal",
		Errors:      []int{http.StatusBadRequest, http.StatusSeeOther},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"task,session"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if cfg.Repo.DB == nil {
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: paginatedEvents{Items: []EventResponse{}}}, nil
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := cfg.Repo.LatestEvents(ctx, limit+1, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
		})
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
