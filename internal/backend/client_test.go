package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tareas/internal/backend"
	"tareas/internal/backend/backendtest"
	"tareas/internal/domain"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func TestTokenAndMe(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	ctx := context.Background()

	anon := backend.New(fake.URL(), nil, nil)
	_, err := anon.Token(ctx, "jperez", "mala")
	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	creds, err := anon.Token(ctx, "jperez", backendtest.Password)
	require.NoError(t, err)
	assert.NotEmpty(t, creds.Access)
	assert.Equal(t, "ref-4", creds.Refresh)

	c := backend.New(fake.URL(), staticToken(creds.Access), nil)
	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jperez", me.Username)
	assert.Equal(t, domain.RoleOperator, me.Profile.Role)

	refreshed, err := anon.Refresh(ctx, creds.Refresh)
	require.NoError(t, err)
	assert.NotEqual(t, creds.Access, refreshed.Access)
	assert.Equal(t, creds.Refresh, refreshed.Refresh)
}

func TestListsAreServerScoped(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	ctx := context.Background()

	op := backend.New(fake.URL(), staticToken(fake.Issue(backendtest.OperatorID)), nil)
	tasks, err := op.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].ID)

	super := backend.New(fake.URL(), staticToken(fake.Issue(backendtest.SuperAdminID)), nil)
	tasks, err = super.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, 3, tasks[0].ID, "newest first")

	users, err := super.ListUsers(ctx, backend.ScopeQuery{CompanyID: 1, SiteID: 10})
	require.NoError(t, err)
	var names []string
	for _, u := range users {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"admin.rajo", "jperez"}, names)

	vehicles, err := super.ListVehicles(ctx, backend.ScopeQuery{CompanyID: 1})
	require.NoError(t, err)
	assert.Len(t, vehicles, 2)

	tools, err := super.ListTools(ctx, backend.ScopeQuery{CompanyID: 1, SiteID: 10})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "Llave de torque", tools[0].Name)

	assert.Contains(t, fake.Calls(), "GET /core/users/?empresa_id=1&faena_id=10")
	assert.Contains(t, fake.Calls(), "GET /core/vehiculos/?empresa_id=1")
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	c := backend.New(fake.URL(), staticToken(""), nil)
	_, err := c.Me(context.Background())
	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestMultipartCreateAndPatch(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	ctx := context.Background()
	c := backend.New(fake.URL(), staticToken(fake.Issue(backendtest.CompanyAdminID)), nil)

	form := backend.NewForm().
		AddInt("empresa_id", 1).
		AddInt("faena_id", 10).
		AddInt("ubicacion_id", 100).
		AddInt("operador_id", backendtest.OperatorID).
		AddInts("personas_involucradas_ids", []int{4, 3}).
		Add("descripcion", "Lubricación").
		Add("estado", "INICIADA").
		Add("fecha_inicio", "2024-03-02T10:00:00Z").
		File("foto_inicio", "inicio.jpg", strings.NewReader("jpeg"))
	created, err := c.CreateTask(ctx, form)
	require.NoError(t, err)
	assert.Equal(t, 4, created.ID)
	assert.Len(t, created.Participants, 2)
	assert.Equal(t, "/media/fotos_tareas/inicio.jpg", created.StartPhoto)

	subs := fake.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"4", "3"}, subs[0].Fields["personas_involucradas_ids"])

	patched, err := c.PatchTask(ctx, created.ID, map[string]any{"descripcion": "Lubricación general"})
	require.NoError(t, err)
	assert.Equal(t, "Lubricación general", patched.Description)
}

func TestPaginatedList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":1,"next":null,"results":[{"id":5,"nombre":"Minera Sur"}]}`))
	}))
	defer srv.Close()
	companies, err := backend.New(srv.URL, nil, nil).ListCompanies(context.Background())
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Minera Sur", companies[0].Name)
}

func TestRequestIDHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	_, err := backend.New(srv.URL, nil, nil).ListSites(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 36)
}

func TestMediaURL(t *testing.T) {
	c := backend.New("https://tareas.example.com/api", nil, nil)
	assert.Equal(t, "https://tareas.example.com/media/fotos_tareas/a.jpg", c.MediaURL("/media/fotos_tareas/a.jpg"))
	assert.Equal(t, "https://tareas.example.com/media/fotos_tareas/a.jpg", c.MediaURL("fotos_tareas/a.jpg"))
	assert.Equal(t, "https://cdn.example.com/x.jpg", c.MediaURL("https://cdn.example.com/x.jpg"))
	assert.Equal(t, "", c.MediaURL(""))
}
