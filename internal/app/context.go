package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"tareas/internal/backend"
	"tareas/internal/config"
	"tareas/internal/db"
	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
	"tareas/internal/events"
	"tareas/internal/migrate"
	"tareas/internal/photo"
	"tareas/internal/repo"
	"tareas/internal/scope"
	"tareas/internal/session"
)

// Overrides are flag/env values that win over tareas.yml.
type Overrides struct {
	APIURL   string
	LogLevel string
}

// Workspace bundles what a command needs: the config, the local database and
// the session stored in it.
type Workspace struct {
	Dir     string
	Config  *config.Config
	DB      *sql.DB
	Repo    repo.Repo
	Session *session.Manager
	Logger  *logrus.Logger
}

// Open loads the workspace config (defaults when tareas.yml is absent),
// applies overrides and opens the migrated database.
func Open(dir string, ov Overrides) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if ov.APIURL != "" {
		cfg.API.BaseURL = ov.APIURL
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.LogLevel())

	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate workspace db: %w", err)
	}
	r := repo.Repo{DB: conn}
	return &Workspace{
		Dir:     dir,
		Config:  cfg,
		DB:      conn,
		Repo:    r,
		Session: session.NewManager(r, cfg.API.BaseURL, logger),
		Logger:  logger,
	}, nil
}

func (w *Workspace) Close() error {
	if w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Client is a backend client authenticated with the stored session.
func (w *Workspace) Client() *backend.Client {
	return w.client(w.Session)
}

// Anonymous is a backend client without credentials, used to log in.
func (w *Workspace) Anonymous() *backend.Client {
	return w.client(backend.StaticToken(""))
}

func (w *Workspace) client(tokens backend.TokenSource) *backend.Client {
	c := backend.New(w.Config.API.BaseURL, tokens, w.Logger)
	c.Timeout = w.Config.Timeout()
	return c
}

func (w *Workspace) Photos() *photo.Store {
	return photo.NewStore(w.Config.Photos.S3, w.Logger)
}

func (w *Workspace) Engine() engine.Engine {
	return engine.New(w.Client(), w.Photos(), events.Writer{DB: w.DB}, w.Logger)
}

func (w *Workspace) Scope() scope.Resolver {
	return scope.NewResolver(w.Client(), w.Logger)
}

// Status resolves the stored session against the backend.
func (w *Workspace) Status(ctx context.Context) auth.Status {
	return session.Resolver{Tokens: w.Session, Backend: w.Client(), Logger: w.Logger}.Resolve(ctx)
}

// Require resolves the session and applies the access gate. A redirect to
// login becomes engine.ErrUnauthenticated; a redirect to the task list
// becomes an auth.ForbiddenError for permission.
func (w *Workspace) Require(ctx context.Context, requireAdmin bool, permission string) (domain.Identity, error) {
	status := w.Status(ctx)
	decision := auth.Authorize(status, requireAdmin)
	switch decision.Kind {
	case auth.DecisionAllow:
		return status.Identity, nil
	case auth.DecisionRedirect:
		w.Logger.WithField("decision", decision.String()).Debug("gate redirect")
		if decision.Route == auth.RouteLogin {
			return domain.Identity{}, fmt.Errorf("%w: run tareas login", engine.ErrUnauthenticated)
		}
		return domain.Identity{}, auth.ForbiddenError{Permission: permission}
	}
	return domain.Identity{}, engine.ErrUnauthenticated
}
