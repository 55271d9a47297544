package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"tareas/internal/backend"
	"tareas/internal/engine/auth"
	"tareas/internal/session"
)

// requestSession is what the gate attaches to each API request: a backend
// client carrying the caller's token and, on gated routes, the resolved
// status.
type requestSession struct {
	Client *backend.Client
	Status auth.Status
}

type sessionKey struct{}

func withSession(ctx context.Context, s requestSession) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFromContext(ctx context.Context) (requestSession, huma.StatusError) {
	if s, ok := ctx.Value(sessionKey{}).(requestSession); ok && s.Client != nil {
		return s, nil
	}
	return requestSession{}, newAPIError(http.StatusUnauthorized, "unauthenticated", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// gateRule says whether a request needs a session and whether it needs an
// administrator. Health, docs and the session endpoints are public.
func gateRule(basePath string, r *http.Request) (gated, requireAdmin bool) {
	rel := strings.TrimPrefix(r.URL.Path, basePath)
	switch {
	case rel == "/health", rel == "/session", rel == "/openapi.json", rel == "/docs":
		return false, false
	case rel == "/dashboard":
		return true, true
	case r.Method == http.MethodPatch && strings.HasPrefix(rel, "/tareas/"):
		return true, true
	}
	return true, false
}

// routePath maps a gate destination onto this API.
func routePath(basePath string, route auth.Route) string {
	switch route {
	case auth.RouteLogin:
		return path.Join(basePath, "session")
	default:
		return path.Join(basePath, "tareas")
	}
}

// newGateMiddleware resolves the caller on every gated request, with no
// caching, and applies auth.Authorize. A bearer header wins over the
// workspace credentials.
func newGateMiddleware(cfg Config) func(http.Handler) http.Handler {
	basePath := cfg.BasePath
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			var tokens backend.TokenSource = cfg.Session
			if cfg.Session == nil {
				tokens = backend.StaticToken("")
			}
			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				tokens = backend.StaticToken(token)
			}
			client := cfg.client(tokens)
			rs := requestSession{Client: client, Status: auth.Unknown()}

			gated, requireAdmin := gateRule(basePath, req)
			if !gated {
				next.ServeHTTP(w, req.WithContext(withSession(req.Context(), rs)))
				return
			}
			rs.Status = session.Resolver{Tokens: tokens, Backend: client, Logger: cfg.Logger}.Resolve(req.Context())
			decision := auth.Authorize(rs.Status, requireAdmin)
			switch decision.Kind {
			case auth.DecisionAllow:
				next.ServeHTTP(w, req.WithContext(withSession(req.Context(), rs)))
			case auth.DecisionRedirect:
				cfg.logger().WithFields(logrus.Fields{
					"path":     req.URL.Path,
					"decision": decision.String(),
				}).Debug("gate redirect")
				code, msg := "unauthenticated", "Debes iniciar sesión."
				if decision.Route == auth.RouteTasks {
					code, msg = "forbidden", "No tienes permisos para esta vista."
				}
				w.Header().Set("Location", routePath(basePath, decision.Route))
				respondStatusError(w, newAPIError(http.StatusSeeOther, code, msg, map[string]any{"redirect": string(decision.Route)}))
			default:
				// pending renders nothing
				w.WriteHeader(http.StatusNoContent)
			}
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
