// Package scope decides which companies, sites, locations, operators and
// equipment an identity may pick when creating a task.
package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tareas/internal/backend"
	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
)

var (
	ErrLocked     = errors.New("field is fixed for this user")
	ErrOutOfScope = errors.New("selection is outside the allowed scope")
)

// Catalog is the backend surface the resolver reads.
type Catalog interface {
	Me(ctx context.Context) (domain.Identity, error)
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	ListSites(ctx context.Context) ([]domain.Site, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
	ListUsers(ctx context.Context, q backend.ScopeQuery) ([]domain.Identity, error)
	ListVehicles(ctx context.Context, q backend.ScopeQuery) ([]domain.Vehicle, error)
	ListTools(ctx context.Context, q backend.ScopeQuery) ([]domain.Tool, error)
}

// Form is the state of a task creation form. Selections go through the
// Select methods so locked fields and the company, site, operator cascade
// are enforced.
type Form struct {
	Identity domain.Identity `json:"usuario"`
	Scope    auth.Scope      `json:"-"`

	Companies []domain.Company  `json:"-"`
	Sites     []domain.Site     `json:"-"`
	Locations []domain.Location `json:"-"`
	// Roster is every user the backend lists, offered as participants.
	Roster []domain.Identity `json:"personas"`

	// Candidates for the current company and site, filled by Refresh.
	Operators []domain.Identity `json:"operadores"`
	Vehicles  []domain.Vehicle  `json:"vehiculos"`
	Tools     []domain.Tool     `json:"herramientas"`

	CompanyID      int   `json:"empresa_id,omitempty"`
	SiteID         int   `json:"faena_id,omitempty"`
	LocationID     int   `json:"ubicacion_id,omitempty"`
	OperatorID     int   `json:"operador_id,omitempty"`
	ParticipantIDs []int `json:"personas_involucradas_ids,omitempty"`
	VehicleIDs     []int `json:"vehiculos_ids,omitempty"`
	ToolIDs        []int `json:"herramientas_ids,omitempty"`
}

func (f *Form) CompanyLocked() bool { return f.Scope != auth.ScopeSuperAdmin }

func (f *Form) SiteLocked() bool {
	switch f.Scope {
	case auth.ScopeSuperAdmin, auth.ScopeCompanyAdmin:
		return false
	}
	return true
}

func (f *Form) OperatorLocked() bool {
	switch f.Scope {
	case auth.ScopeOperator, auth.ScopeNone:
		return true
	}
	return false
}

// CompanyOptions lists every company for a superadmin and only the
// identity's own company otherwise.
func (f *Form) CompanyOptions() []domain.Company {
	if f.Scope == auth.ScopeSuperAdmin {
		return f.Companies
	}
	var out []domain.Company
	for _, c := range f.Companies {
		if c.ID == f.Identity.CompanyID() && c.ID != 0 {
			out = append(out, c)
		}
	}
	return out
}

// SiteOptions lists the sites of the chosen company. It is empty until a
// company is chosen.
func (f *Form) SiteOptions() []domain.Site {
	if f.CompanyID == 0 {
		return nil
	}
	var out []domain.Site
	for _, s := range f.Sites {
		if s.CompanyID == f.CompanyID {
			out = append(out, s)
		}
	}
	return out
}

// LocationOptions lists the locations of the chosen site.
func (f *Form) LocationOptions() []domain.Location {
	if f.SiteID == 0 {
		return nil
	}
	var out []domain.Location
	for _, l := range f.Locations {
		if l.SiteID() == f.SiteID {
			out = append(out, l)
		}
	}
	return out
}

// SelectCompany changes the company. A different company clears the site,
// location and operator along with the candidate lists until Refresh.
func (f *Form) SelectCompany(id int) error {
	if f.CompanyLocked() {
		return fmt.Errorf("empresa: %w", ErrLocked)
	}
	if id == f.CompanyID {
		return nil
	}
	if id != 0 && !hasCompany(f.CompanyOptions(), id) {
		return fmt.Errorf("empresa %d: %w", id, ErrOutOfScope)
	}
	f.CompanyID = id
	f.SiteID = 0
	f.LocationID = 0
	f.OperatorID = 0
	f.dropCandidates()
	return nil
}

// SelectSite changes the site. A different site clears the operator, and
// the location when it belongs elsewhere.
func (f *Form) SelectSite(id int) error {
	if f.SiteLocked() {
		return fmt.Errorf("faena: %w", ErrLocked)
	}
	if id == f.SiteID {
		return nil
	}
	if id != 0 && !hasSite(f.SiteOptions(), id) {
		return fmt.Errorf("faena %d: %w", id, ErrOutOfScope)
	}
	f.SiteID = id
	f.OperatorID = 0
	if !hasLocation(f.LocationOptions(), f.LocationID) {
		f.LocationID = 0
	}
	f.dropCandidates()
	return nil
}

func (f *Form) SelectLocation(id int) error {
	if id != 0 && !hasLocation(f.LocationOptions(), id) {
		return fmt.Errorf("ubicacion %d: %w", id, ErrOutOfScope)
	}
	f.LocationID = id
	return nil
}

// SelectOperator picks the operator among the candidates loaded by Refresh.
func (f *Form) SelectOperator(id int) error {
	if f.OperatorLocked() {
		return fmt.Errorf("operador: %w", ErrLocked)
	}
	if id != 0 && !hasUser(f.Operators, id) {
		return fmt.Errorf("operador %d: %w", id, ErrOutOfScope)
	}
	f.OperatorID = id
	return nil
}

// SelectParticipants replaces the participants. Any roster user may take part.
func (f *Form) SelectParticipants(ids []int) error {
	for _, id := range ids {
		if !hasUser(f.Roster, id) {
			return fmt.Errorf("persona %d: %w", id, ErrOutOfScope)
		}
	}
	f.ParticipantIDs = append([]int(nil), ids...)
	return nil
}

func (f *Form) SelectVehicles(ids []int) error {
	for _, id := range ids {
		if !hasVehicle(f.Vehicles, id) {
			return fmt.Errorf("vehiculo %d: %w", id, ErrOutOfScope)
		}
	}
	f.VehicleIDs = append([]int(nil), ids...)
	return nil
}

func (f *Form) SelectTools(ids []int) error {
	for _, id := range ids {
		if !hasTool(f.Tools, id) {
			return fmt.Errorf("herramienta %d: %w", id, ErrOutOfScope)
		}
	}
	f.ToolIDs = append([]int(nil), ids...)
	return nil
}

// CreateOptions turns the selections into lifecycle options.
func (f *Form) CreateOptions(description, startPhoto string) engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		Description:    description,
		CompanyID:      f.CompanyID,
		SiteID:         f.SiteID,
		LocationID:     f.LocationID,
		OperatorID:     f.OperatorID,
		ParticipantIDs: f.ParticipantIDs,
		VehicleIDs:     f.VehicleIDs,
		ToolIDs:        f.ToolIDs,
		StartPhoto:     startPhoto,
		Actor:          f.Identity.Username,
	}
}

func (f *Form) dropCandidates() {
	if !f.OperatorLocked() {
		f.Operators = nil
	}
	f.Vehicles = nil
	f.Tools = nil
	f.VehicleIDs = nil
	f.ToolIDs = nil
}

// Resolver loads forms from the backend.
type Resolver struct {
	Catalog Catalog
	Logger  *logrus.Logger
}

func NewResolver(c Catalog, logger *logrus.Logger) Resolver {
	return Resolver{Catalog: c, Logger: logger}
}

// Load fetches the reference data and the current identity concurrently,
// applies the scope defaults and loads the candidates for them.
func (r Resolver) Load(ctx context.Context) (*Form, error) {
	f := &Form{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		f.Companies, err = r.Catalog.ListCompanies(gctx)
		return err
	})
	g.Go(func() (err error) {
		f.Sites, err = r.Catalog.ListSites(gctx)
		return err
	})
	g.Go(func() (err error) {
		f.Locations, err = r.Catalog.ListLocations(gctx)
		return err
	})
	g.Go(func() (err error) {
		f.Identity, err = r.Catalog.Me(gctx)
		return err
	})
	g.Go(func() (err error) {
		f.Roster, err = r.Catalog.ListUsers(gctx, backend.ScopeQuery{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.Scope = auth.ScopeOf(f.Identity)
	switch f.Scope {
	case auth.ScopeCompanyAdmin:
		f.CompanyID = f.Identity.CompanyID()
	case auth.ScopeSiteAdmin:
		f.CompanyID = f.Identity.CompanyID()
		f.SiteID = f.Identity.SiteID()
	case auth.ScopeOperator:
		f.CompanyID = f.Identity.CompanyID()
		f.SiteID = f.Identity.SiteID()
		f.OperatorID = f.Identity.ID
	}
	r.logger().WithFields(logrus.Fields{
		"user":    f.Identity.Username,
		"scope":   f.Scope.String(),
		"company": f.CompanyID,
		"site":    f.SiteID,
	}).Debug("task form loaded")

	if err := r.Refresh(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Refresh reloads the operator, vehicle and tool candidates for the form's
// company and site. Nothing is fetched while no company is chosen.
// Selections that are no longer candidates are dropped.
func (r Resolver) Refresh(ctx context.Context, f *Form) error {
	if f.Scope == auth.ScopeNone {
		f.Operators, f.Vehicles, f.Tools = nil, nil, nil
		f.OperatorID = 0
		return nil
	}
	if f.Scope == auth.ScopeOperator {
		f.Operators = []domain.Identity{f.Identity}
	}
	if f.CompanyID == 0 {
		if f.Scope != auth.ScopeOperator {
			f.Operators = nil
		}
		f.Vehicles, f.Tools = nil, nil
		f.prune()
		return nil
	}

	q := backend.ScopeQuery{CompanyID: f.CompanyID, SiteID: f.SiteID}
	var operators []domain.Identity
	var vehicles []domain.Vehicle
	var tools []domain.Tool
	g, gctx := errgroup.WithContext(ctx)
	if f.Scope != auth.ScopeOperator {
		g.Go(func() (err error) {
			operators, err = r.Catalog.ListUsers(gctx, q)
			return err
		})
	}
	g.Go(func() (err error) {
		vehicles, err = r.Catalog.ListVehicles(gctx, q)
		return err
	})
	g.Go(func() (err error) {
		tools, err = r.Catalog.ListTools(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if f.Scope != auth.ScopeOperator {
		f.Operators = operators
	}
	f.Vehicles = vehicles
	f.Tools = tools
	f.prune()
	return nil
}

// Selection is a complete set of choices submitted at once. Zero ids leave
// the form's current value, so locked defaults need not be repeated.
type Selection struct {
	CompanyID      int
	SiteID         int
	LocationID     int
	OperatorID     int
	ParticipantIDs []int
	VehicleIDs     []int
	ToolIDs        []int
}

// Apply walks the selection through the form in cascade order, refreshing
// candidates once company and site are settled.
func (r Resolver) Apply(ctx context.Context, f *Form, sel Selection) error {
	if sel.CompanyID != 0 && sel.CompanyID != f.CompanyID {
		if err := f.SelectCompany(sel.CompanyID); err != nil {
			return err
		}
	}
	if sel.SiteID != 0 && sel.SiteID != f.SiteID {
		if err := f.SelectSite(sel.SiteID); err != nil {
			return err
		}
	}
	if err := r.Refresh(ctx, f); err != nil {
		return err
	}
	if sel.LocationID != 0 {
		if err := f.SelectLocation(sel.LocationID); err != nil {
			return err
		}
	}
	if sel.OperatorID != 0 && sel.OperatorID != f.OperatorID {
		if err := f.SelectOperator(sel.OperatorID); err != nil {
			return err
		}
	}
	if err := f.SelectParticipants(sel.ParticipantIDs); err != nil {
		return err
	}
	if err := f.SelectVehicles(sel.VehicleIDs); err != nil {
		return err
	}
	return f.SelectTools(sel.ToolIDs)
}

func (f *Form) prune() {
	if f.OperatorID != 0 && !hasUser(f.Operators, f.OperatorID) {
		f.OperatorID = 0
	}
	f.VehicleIDs = keep(f.VehicleIDs, func(id int) bool { return hasVehicle(f.Vehicles, id) })
	f.ToolIDs = keep(f.ToolIDs, func(id int) bool { return hasTool(f.Tools, id) })
}

func (r Resolver) logger() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logrus.StandardLogger()
}

func keep(ids []int, ok func(int) bool) []int {
	var out []int
	for _, id := range ids {
		if ok(id) {
			out = append(out, id)
		}
	}
	return out
}

func hasCompany(cs []domain.Company, id int) bool {
	for _, c := range cs {
		if c.ID == id {
			return true
		}
	}
	return false
}

func hasSite(ss []domain.Site, id int) bool {
	for _, s := range ss {
		if s.ID == id {
			return true
		}
	}
	return false
}

func hasLocation(ls []domain.Location, id int) bool {
	for _, l := range ls {
		if l.ID == id {
			return true
		}
	}
	return false
}

func hasUser(us []domain.Identity, id int) bool {
	for _, u := range us {
		if u.ID == id {
			return true
		}
	}
	return false
}

func hasVehicle(vs []domain.Vehicle, id int) bool {
	for _, v := range vs {
		if v.ID == id {
			return true
		}
	}
	return false
}

func hasTool(ts []domain.Tool, id int) bool {
	for _, t := range ts {
		if t.ID == id {
			return true
		}
	}
	return false
}
