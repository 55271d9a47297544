package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"tareas/internal/backend"
	"tareas/internal/domain"
	"tareas/internal/events"
	"tareas/internal/repo"
)

var (
	ErrNoCredentials = errors.New("not logged in")
	ErrInvalidLogin  = errors.New("usuario o contraseña incorrectos")
)

// Issuer obtains credentials from the backend.
type Issuer interface {
	Token(ctx context.Context, username, password string) (domain.Credentials, error)
	Refresh(ctx context.Context, refresh string) (domain.Credentials, error)
}

// Manager is the only owner of persisted credentials. Everything that needs a
// bearer token reads it through the Manager.
type Manager struct {
	Repo    repo.Repo
	Events  events.Writer
	BaseURL string
	Now     func() time.Time
	Logger  *logrus.Logger
}

func NewManager(r repo.Repo, baseURL string, logger *logrus.Logger) *Manager {
	return &Manager{
		Repo:    r,
		Events:  events.Writer{DB: r.DB},
		BaseURL: baseURL,
		Now:     time.Now,
		Logger:  logger,
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) logger() *logrus.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return logrus.StandardLogger()
}

// Credentials returns the stored credentials. Credentials saved for another
// backend are treated as absent.
func (m *Manager) Credentials(ctx context.Context) (domain.Credentials, error) {
	c, err := m.Repo.GetCredentials(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return c, ErrNoCredentials
	}
	if err != nil {
		return c, err
	}
	if m.BaseURL != "" && c.BaseURL != m.BaseURL {
		return domain.Credentials{}, ErrNoCredentials
	}
	return c, nil
}

// AccessToken implements backend.TokenSource. No credentials yields "".
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	c, err := m.Credentials(ctx)
	if errors.Is(err, ErrNoCredentials) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.Access, nil
}

func (m *Manager) Save(ctx context.Context, c domain.Credentials) error {
	c.BaseURL = m.BaseURL
	c.SavedAt = m.now().UTC().Format(time.RFC3339)
	return m.Repo.PutCredentials(ctx, c)
}

// Clear removes stored credentials.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.Repo.ClearCredentials(ctx); err != nil {
		return err
	}
	m.journal(ctx, "session.logout", "", nil)
	return nil
}

// Login exchanges the password for credentials and stores them. A rejected
// password yields ErrInvalidLogin and leaves any stored credentials untouched.
func (m *Manager) Login(ctx context.Context, issuer Issuer, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidLogin
	}
	creds, err := issuer.Token(ctx, username, password)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusBadRequest) {
			return ErrInvalidLogin
		}
		return err
	}
	if creds.Access == "" {
		return fmt.Errorf("token response without access token")
	}
	if err := m.Save(ctx, creds); err != nil {
		return err
	}
	m.logger().WithField("username", username).Info("logged in")
	m.journal(ctx, "session.login", username, nil)
	return nil
}

// Refresh swaps the stored refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context, issuer Issuer) error {
	c, err := m.Credentials(ctx)
	if err != nil {
		return err
	}
	if c.Refresh == "" {
		return fmt.Errorf("no refresh token stored; log in again")
	}
	next, err := issuer.Refresh(ctx, c.Refresh)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return ErrNoCredentials
		}
		return err
	}
	if next.Refresh == "" {
		next.Refresh = c.Refresh
	}
	if err := m.Save(ctx, next); err != nil {
		return err
	}
	m.journal(ctx, "session.refresh", "", nil)
	return nil
}

// Claims are the fields of the backend's access token the client displays.
type Claims struct {
	jwt.RegisteredClaims
	UserID    json.Number `json:"user_id,omitempty"`
	TokenType string      `json:"token_type,omitempty"`
}

// Expired reports whether the token's exp claim is before now.
func (c Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Time.Before(now)
}

// Claims decodes the stored access token without verifying its signature;
// the backend stays the authority on validity.
func (m *Manager) Claims(ctx context.Context) (Claims, error) {
	c, err := m.Credentials(ctx)
	if err != nil {
		return Claims{}, err
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(c.Access, &claims); err != nil {
		return Claims{}, fmt.Errorf("decode access token: %w", err)
	}
	return claims, nil
}

func (m *Manager) journal(ctx context.Context, evtType, actor string, payload events.EventPayload) {
	if err := m.Events.Append(ctx, evtType, "session", "", actor, payload); err != nil {
		m.logger().WithError(err).Warn("journal append failed")
	}
}
