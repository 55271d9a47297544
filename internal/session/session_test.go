package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tareas/internal/backend"
	"tareas/internal/backend/backendtest"
	"tareas/internal/db"
	"tareas/internal/domain"
	"tareas/internal/engine/auth"
	"tareas/internal/migrate"
	"tareas/internal/repo"
	"tareas/internal/session"
)

func newManager(t *testing.T, baseURL string) *session.Manager {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	m := session.NewManager(repo.Repo{DB: conn}, baseURL, nil)
	m.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestLoginLogout(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	ctx := context.Background()
	m := newManager(t, fake.URL())
	client := backend.New(fake.URL(), m, nil)

	err := m.Login(ctx, client, "jperez", "incorrecta")
	assert.ErrorIs(t, err, session.ErrInvalidLogin)
	_, err = m.Credentials(ctx)
	assert.ErrorIs(t, err, session.ErrNoCredentials)

	require.NoError(t, m.Login(ctx, client, "jperez", backendtest.Password))
	creds, err := m.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ref-4", creds.Refresh)
	assert.Equal(t, "2024-03-01T12:00:00Z", creds.SavedAt)

	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jperez", me.Username)

	require.NoError(t, m.Refresh(ctx, client))
	next, err := m.Credentials(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, creds.Access, next.Access)
	assert.Equal(t, "ref-4", next.Refresh)

	require.NoError(t, m.Clear(ctx))
	token, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", token)

	journal, err := m.Repo.LatestEvents(ctx, 10, repo.EventFilters{EntityKind: "session"})
	require.NoError(t, err)
	require.Len(t, journal, 3)
	assert.Equal(t, "session.logout", journal[0].Type)
	assert.Equal(t, "jperez", journal[2].Actor)
}

func TestCredentialsFromOtherBackendIgnored(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, "http://one/api")
	require.NoError(t, m.Save(ctx, domain.Credentials{Access: "a"}))
	m.BaseURL = "http://two/api"
	token, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", token)
}

func TestClaims(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, "http://x/api")
	exp := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "access",
		"exp":        exp.Unix(),
		"user_id":    4,
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, domain.Credentials{Access: signed}))

	claims, err := m.Claims(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4", claims.UserID.String())
	assert.Equal(t, "access", claims.TokenType)
	assert.True(t, claims.Expired(m.Now()))

	require.NoError(t, m.Save(ctx, domain.Credentials{Access: "not-a-jwt"}))
	_, err = m.Claims(ctx)
	assert.Error(t, err)
}

type countingFetcher struct {
	calls int
	id    domain.Identity
	err   error
}

func (c *countingFetcher) Me(context.Context) (domain.Identity, error) {
	c.calls++
	return c.id, c.err
}

type fixedToken string

func (f fixedToken) AccessToken(context.Context) (string, error) { return string(f), nil }

func TestResolve(t *testing.T) {
	ctx := context.Background()

	noToken := &countingFetcher{}
	st := session.Resolver{Tokens: fixedToken(""), Backend: noToken}.Resolve(ctx)
	assert.Equal(t, auth.StatusUnauthenticated, st.Kind)
	assert.Zero(t, noToken.calls, "no network call without a token")

	failing := &countingFetcher{err: errors.New("connection refused")}
	st = session.Resolver{Tokens: fixedToken("t"), Backend: failing}.Resolve(ctx)
	assert.Equal(t, auth.StatusUnauthenticated, st.Kind)

	malformed := &countingFetcher{id: domain.Identity{}}
	st = session.Resolver{Tokens: fixedToken("t"), Backend: malformed}.Resolve(ctx)
	assert.Equal(t, auth.StatusUnauthenticated, st.Kind)

	ok := &countingFetcher{id: domain.Identity{ID: 4, Username: "jperez"}}
	r := session.Resolver{Tokens: fixedToken("t"), Backend: ok}
	st = r.Resolve(ctx)
	assert.Equal(t, auth.StatusAuthenticated, st.Kind)
	assert.Equal(t, "jperez", st.Identity.Username)
	r.Resolve(ctx)
	assert.Equal(t, 2, ok.calls, "each resolution asks the backend")
}

func TestResolveAgainstBackend(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	ctx := context.Background()
	m := newManager(t, fake.URL())
	client := backend.New(fake.URL(), m, nil)
	r := session.Resolver{Tokens: m, Backend: client}

	assert.Equal(t, auth.StatusUnauthenticated, r.Resolve(ctx).Kind)
	assert.Empty(t, fake.Calls())

	require.NoError(t, m.Save(ctx, domain.Credentials{Access: "revocado"}))
	assert.Equal(t, auth.StatusUnauthenticated, r.Resolve(ctx).Kind)

	require.NoError(t, m.Save(ctx, domain.Credentials{Access: fake.Issue(backendtest.SiteAdminID)}))
	st := r.Resolve(ctx)
	require.Equal(t, auth.StatusAuthenticated, st.Kind)
	assert.Equal(t, auth.ScopeSiteAdmin, auth.ScopeOf(st.Identity))
}
