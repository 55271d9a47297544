package backendtest

import (
	"time"

	"tareas/internal/domain"
)

// Fixture user ids.
const (
	SuperAdminID   = 1
	CompanyAdminID = 2
	SiteAdminID    = 3
	OperatorID     = 4
	OtherSiteOpID  = 5
	OtherCompOpID  = 6
	NoProfileID    = 7
)

// Password is shared by every fixture user.
const Password = "secreto"

// Seeded returns a fake loaded with two companies, three sites and users of
// every scope.
func Seeded() *Fake {
	f := New()
	sur := domain.Company{ID: 1, Name: "Minera Sur"}
	norte := domain.Company{ID: 2, Name: "Constructora Norte"}
	rajo := domain.Site{ID: 10, Name: "Rajo Norte", CompanyID: 1}
	planta := domain.Site{ID: 11, Name: "Planta", CompanyID: 1}
	obra := domain.Site{ID: 20, Name: "Obra Centro", CompanyID: 2}
	f.Companies = []domain.Company{sur, norte}
	f.Sites = []domain.Site{rajo, planta, obra}
	f.Locations = []domain.Location{
		{ID: 100, Name: "Chancado", Latitude: "-23.650000", Longitude: "-70.400000", Site: &rajo},
		{ID: 101, Name: "Molienda", Latitude: "-23.651000", Longitude: "-70.401000", Site: &planta},
		{ID: 200, Name: "Torre A", Latitude: "-33.450000", Longitude: "-70.660000", Site: &obra},
	}
	f.Users = []domain.Identity{
		{ID: SuperAdminID, Username: "root", IsSuperuser: true},
		{ID: CompanyAdminID, Username: "admin.sur", FirstName: "Ana", LastName: "Díaz", Profile: &domain.Profile{ID: 2, Role: domain.RoleAdmin, Company: &sur}},
		{ID: SiteAdminID, Username: "admin.rajo", Profile: &domain.Profile{ID: 3, Role: domain.RoleAdmin, Company: &sur, Site: &rajo}},
		{ID: OperatorID, Username: "jperez", FirstName: "Juan", LastName: "Pérez", Profile: &domain.Profile{ID: 4, Role: domain.RoleOperator, Company: &sur, Site: &rajo}},
		{ID: OtherSiteOpID, Username: "mrojas", Profile: &domain.Profile{ID: 5, Role: domain.RoleOperator, Company: &sur, Site: &planta}},
		{ID: OtherCompOpID, Username: "lsoto", Profile: &domain.Profile{ID: 6, Role: domain.RoleOperator, Company: &norte, Site: &obra}},
		{ID: NoProfileID, Username: "visita"},
	}
	for _, u := range f.Users {
		f.Passwords[u.Username] = Password
	}
	rajoID, plantaID, obraID := 10, 11, 20
	f.Vehicles = []domain.Vehicle{
		{ID: 1, CompanyID: 1, SiteID: &rajoID, Plate: "AB-1234", Description: "Camioneta"},
		{ID: 2, CompanyID: 1, SiteID: &plantaID, Plate: "CD-5678"},
		{ID: 3, CompanyID: 2, SiteID: &obraID, Plate: "EF-9012"},
	}
	f.Tools = []domain.Tool{
		{ID: 1, CompanyID: 1, SiteID: &rajoID, Name: "Llave de torque"},
		{ID: 2, CompanyID: 1, Name: "Esmeril"},
		{ID: 3, CompanyID: 2, SiteID: &obraID, Name: "Taladro"},
	}
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	ninety := 90
	op := f.Users[3]
	other := f.Users[4]
	f.Tasks = []domain.Task{
		{ID: 1, Description: "Cambio de correa", State: domain.StateClosed, StartedAt: start, ClosedAt: &end,
			Company: &sur, Site: &rajo, Location: &f.Locations[0], Operator: &op,
			StartPhoto: "/media/fotos_tareas/a.jpg", EndPhoto: "/media/fotos_tareas/b.jpg", RecordedDuration: &ninety},
		{ID: 2, Description: "Revisión bomba", State: domain.StateOpen, StartedAt: start.Add(time.Hour),
			Company: &sur, Site: &planta, Location: &f.Locations[1], Operator: &other, StartPhoto: "/media/fotos_tareas/c.jpg"},
		{ID: 3, Description: "Inspección grúa", State: domain.StateOpen, StartedAt: start.Add(2 * time.Hour),
			Company: &norte, Site: &obra, Location: &f.Locations[2], Operator: &f.Users[5], StartPhoto: "/media/fotos_tareas/d.jpg"},
	}
	return f
}

// User returns the fixture user with id.
func (f *Fake) User(id int) domain.Identity {
	u, _ := f.user(id)
	return u
}
