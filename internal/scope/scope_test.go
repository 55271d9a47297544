package scope_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tareas/internal/backend"
	"tareas/internal/backend/backendtest"
	"tareas/internal/domain"
	"tareas/internal/engine/auth"
	"tareas/internal/scope"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

func load(t *testing.T, userID int) (*scope.Form, scope.Resolver, *backendtest.Fake) {
	t.Helper()
	fake := backendtest.Seeded()
	t.Cleanup(fake.Close)
	r := scope.NewResolver(backend.New(fake.URL(), staticToken(fake.Issue(userID)), nil), nil)
	f, err := r.Load(context.Background())
	require.NoError(t, err)
	return f, r, fake
}

func userIDs(us []domain.Identity) []int {
	var out []int
	for _, u := range us {
		out = append(out, u.ID)
	}
	return out
}

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestSuperAdminStartsUnset(t *testing.T) {
	f, _, fake := load(t, backendtest.SuperAdminID)

	assert.Equal(t, auth.ScopeSuperAdmin, f.Scope)
	assert.False(t, f.CompanyLocked())
	assert.False(t, f.SiteLocked())
	assert.False(t, f.OperatorLocked())
	assert.Len(t, f.CompanyOptions(), 2)
	assert.Empty(t, f.SiteOptions())
	assert.Zero(t, f.CompanyID)
	assert.Empty(t, f.Operators)
	assert.Empty(t, f.Vehicles)
	assert.Len(t, f.Roster, 7)

	calls := fake.Calls()
	assert.Equal(t, 0, countCalls(calls, "GET /core/vehiculos/"))
	assert.Equal(t, 0, countCalls(calls, "GET /core/herramientas/"))
	assert.Contains(t, calls, "GET /core/users/")
}

func TestSuperAdminCascade(t *testing.T) {
	f, r, fake := load(t, backendtest.SuperAdminID)
	ctx := context.Background()

	require.NoError(t, f.SelectCompany(1))
	require.NoError(t, r.Refresh(ctx, f))
	assert.Equal(t, []int{backendtest.CompanyAdminID, backendtest.SiteAdminID, backendtest.OperatorID, backendtest.OtherSiteOpID}, userIDs(f.Operators))
	assert.Len(t, f.SiteOptions(), 2)

	require.NoError(t, f.SelectSite(10))
	assert.Empty(t, f.Operators)
	fake.ResetCalls()
	require.NoError(t, r.Refresh(ctx, f))
	assert.ElementsMatch(t, []string{
		"GET /core/users/?empresa_id=1&faena_id=10",
		"GET /core/vehiculos/?empresa_id=1&faena_id=10",
		"GET /core/herramientas/?empresa_id=1&faena_id=10",
	}, fake.Calls())
	require.NoError(t, f.SelectOperator(backendtest.OperatorID))
	require.NoError(t, f.SelectLocation(100))
	require.NoError(t, f.SelectVehicles([]int{1}))
	assert.ErrorIs(t, f.SelectLocation(200), scope.ErrOutOfScope)
	assert.ErrorIs(t, f.SelectVehicles([]int{3}), scope.ErrOutOfScope)
	assert.ErrorIs(t, f.SelectOperator(backendtest.OtherCompOpID), scope.ErrOutOfScope)

	require.NoError(t, f.SelectCompany(2))
	assert.Zero(t, f.SiteID)
	assert.Zero(t, f.OperatorID)
	assert.Zero(t, f.LocationID)
	assert.Empty(t, f.VehicleIDs)
	assert.ErrorIs(t, f.SelectSite(10), scope.ErrOutOfScope)
	assert.ErrorIs(t, f.SelectCompany(99), scope.ErrOutOfScope)
}

func TestSameCompanyKeepsSelections(t *testing.T) {
	f, r, _ := load(t, backendtest.SuperAdminID)
	ctx := context.Background()
	require.NoError(t, f.SelectCompany(1))
	require.NoError(t, f.SelectSite(10))
	require.NoError(t, r.Refresh(ctx, f))
	require.NoError(t, f.SelectOperator(backendtest.SiteAdminID))

	require.NoError(t, f.SelectCompany(1))
	assert.Equal(t, 10, f.SiteID)
	assert.Equal(t, backendtest.SiteAdminID, f.OperatorID)
}

func TestCompanyAdminScope(t *testing.T) {
	f, r, _ := load(t, backendtest.CompanyAdminID)
	ctx := context.Background()

	assert.Equal(t, auth.ScopeCompanyAdmin, f.Scope)
	assert.True(t, f.CompanyLocked())
	assert.False(t, f.SiteLocked())
	assert.False(t, f.OperatorLocked())
	assert.Equal(t, 1, f.CompanyID)
	require.Len(t, f.CompanyOptions(), 1)
	assert.Equal(t, "Minera Sur", f.CompanyOptions()[0].Name)
	assert.ErrorIs(t, f.SelectCompany(2), scope.ErrLocked)
	assert.Len(t, f.Operators, 4)
	assert.Len(t, f.Tools, 2)

	require.NoError(t, f.SelectOperator(backendtest.OtherSiteOpID))
	require.NoError(t, f.SelectSite(10))
	assert.Zero(t, f.OperatorID)
	require.NoError(t, r.Refresh(ctx, f))
	assert.Equal(t, []int{backendtest.SiteAdminID, backendtest.OperatorID}, userIDs(f.Operators))
	require.Len(t, f.Tools, 1)
	assert.Equal(t, "Llave de torque", f.Tools[0].Name)
	assert.ErrorIs(t, f.SelectSite(20), scope.ErrOutOfScope)
}

func TestRefreshDropsStaleSelections(t *testing.T) {
	f, r, _ := load(t, backendtest.CompanyAdminID)
	require.NoError(t, f.SelectOperator(backendtest.OtherSiteOpID))
	require.NoError(t, f.SelectTools([]int{1, 2}))

	// site changed behind the selections
	f.SiteID = 10
	require.NoError(t, r.Refresh(context.Background(), f))
	assert.Zero(t, f.OperatorID)
	assert.Equal(t, []int{1}, f.ToolIDs)
}

func TestSiteAdminScope(t *testing.T) {
	f, _, _ := load(t, backendtest.SiteAdminID)

	assert.Equal(t, auth.ScopeSiteAdmin, f.Scope)
	assert.True(t, f.CompanyLocked())
	assert.True(t, f.SiteLocked())
	assert.False(t, f.OperatorLocked())
	assert.Equal(t, 1, f.CompanyID)
	assert.Equal(t, 10, f.SiteID)
	assert.ErrorIs(t, f.SelectSite(11), scope.ErrLocked)
	assert.Equal(t, []int{backendtest.SiteAdminID, backendtest.OperatorID}, userIDs(f.Operators))
	require.Len(t, f.LocationOptions(), 1)
	assert.Equal(t, 100, f.LocationOptions()[0].ID)
}

func TestOperatorScope(t *testing.T) {
	f, _, fake := load(t, backendtest.OperatorID)

	assert.Equal(t, auth.ScopeOperator, f.Scope)
	assert.True(t, f.CompanyLocked())
	assert.True(t, f.SiteLocked())
	assert.True(t, f.OperatorLocked())
	assert.Equal(t, backendtest.OperatorID, f.OperatorID)
	assert.Equal(t, []int{backendtest.OperatorID}, userIDs(f.Operators))
	assert.ErrorIs(t, f.SelectOperator(backendtest.OtherSiteOpID), scope.ErrLocked)
	assert.ErrorIs(t, f.SelectCompany(1), scope.ErrLocked)
	assert.Equal(t, 1, countCalls(fake.Calls(), "GET /core/users/"))

	opts := f.CreateOptions("Cambio de aceite", "/tmp/a.jpg")
	assert.Equal(t, 1, opts.CompanyID)
	assert.Equal(t, 10, opts.SiteID)
	assert.Equal(t, backendtest.OperatorID, opts.OperatorID)
	assert.Equal(t, "jperez", opts.Actor)
}

func TestParticipantsComeFromRoster(t *testing.T) {
	f, _, _ := load(t, backendtest.CompanyAdminID)
	require.NoError(t, f.SelectSite(10))
	// participants are not limited to the site
	require.NoError(t, f.SelectParticipants([]int{backendtest.OtherSiteOpID}))
	assert.ErrorIs(t, f.SelectParticipants([]int{backendtest.OtherCompOpID}), scope.ErrOutOfScope)
}

func TestNoProfileIsLockedAndEmpty(t *testing.T) {
	f, _, fake := load(t, backendtest.NoProfileID)

	assert.Equal(t, auth.ScopeNone, f.Scope)
	assert.True(t, f.CompanyLocked())
	assert.True(t, f.SiteLocked())
	assert.True(t, f.OperatorLocked())
	assert.Empty(t, f.CompanyOptions())
	assert.Empty(t, f.Operators)
	assert.Equal(t, 0, countCalls(fake.Calls(), "GET /core/vehiculos/"))
}

func TestLoadFailsOnBackendError(t *testing.T) {
	fake := backendtest.Seeded()
	defer fake.Close()
	fake.FailPaths = []string{"/core/faenas/"}
	r := scope.NewResolver(backend.New(fake.URL(), staticToken(fake.Issue(backendtest.SuperAdminID)), nil), nil)
	_, err := r.Load(context.Background())
	require.Error(t, err)
}

func TestApplySelection(t *testing.T) {
	f, r, _ := load(t, backendtest.SuperAdminID)
	err := r.Apply(context.Background(), f, scope.Selection{
		CompanyID:      1,
		SiteID:         10,
		LocationID:     100,
		OperatorID:     backendtest.OperatorID,
		ParticipantIDs: []int{backendtest.OtherCompOpID},
		VehicleIDs:     []int{1},
		ToolIDs:        []int{1},
	})
	require.NoError(t, err)
	opts := f.CreateOptions("Cambio de correa", "/tmp/a.jpg")
	assert.Equal(t, 100, opts.LocationID)
	assert.Equal(t, []int{backendtest.OtherCompOpID}, opts.ParticipantIDs)
	assert.Equal(t, "root", opts.Actor)

	op, r2, _ := load(t, backendtest.OperatorID)
	assert.NoError(t, r2.Apply(context.Background(), op, scope.Selection{CompanyID: 1, SiteID: 10, LocationID: 100}))
	assert.ErrorIs(t, r2.Apply(context.Background(), op, scope.Selection{SiteID: 11}), scope.ErrLocked)
}
