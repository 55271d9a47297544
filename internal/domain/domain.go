package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TaskState is the backend "estado" of a work order.
type TaskState string

const (
	StateOpen   TaskState = "INICIADA"
	StateClosed TaskState = "FINALIZADA"
)

// Role is the profile role stored by the backend.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERADOR"
)

type Company struct {
	ID   int    `json:"id"`
	Name string `json:"nombre"`
}

type Site struct {
	ID        int    `json:"id"`
	Name      string `json:"nombre"`
	CompanyID int    `json:"empresa"`
}

type Location struct {
	ID        int         `json:"id"`
	Name      string      `json:"nombre"`
	Latitude  json.Number `json:"latitud,omitempty"`
	Longitude json.Number `json:"longitud,omitempty"`
	Site      *Site       `json:"faena,omitempty"`
}

// SiteID returns the id of the site the location belongs to, or 0.
func (l Location) SiteID() int {
	if l.Site == nil {
		return 0
	}
	return l.Site.ID
}

type Vehicle struct {
	ID          int    `json:"id"`
	CompanyID   int    `json:"empresa"`
	SiteID      *int   `json:"faena,omitempty"`
	Plate       string `json:"patente"`
	Description string `json:"descripcion,omitempty"`
	Name        string `json:"nombre,omitempty"`
}

// Label is "plate (description)" unless the backend already provides a name.
func (v Vehicle) Label() string {
	if v.Name != "" {
		return v.Name
	}
	if v.Description == "" {
		return v.Plate
	}
	return v.Plate + " (" + v.Description + ")"
}

type Tool struct {
	ID        int    `json:"id"`
	CompanyID int    `json:"empresa"`
	SiteID    *int   `json:"faena,omitempty"`
	Name      string `json:"nombre"`
}

type Profile struct {
	ID      int      `json:"id,omitempty"`
	Role    Role     `json:"rol"`
	Company *Company `json:"empresa,omitempty"`
	Site    *Site    `json:"faena,omitempty"`
}

// Identity is a backend user as returned by core/me/ and core/users/.
type Identity struct {
	ID          int      `json:"id"`
	Username    string   `json:"username"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	FullName    string   `json:"nombre_completo,omitempty"`
	IsSuperuser bool     `json:"is_superuser,omitempty"`
	Profile     *Profile `json:"perfil,omitempty"`
}

// UnmarshalJSON accepts either a nested user object or a bare user id.
func (u *Identity) UnmarshalJSON(data []byte) error {
	if id, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
		*u = Identity{ID: id}
		return nil
	}
	type plain Identity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = Identity(p)
	return nil
}

// DisplayName prefers the person's name over the username.
func (u Identity) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

// CompanyID returns the profile company id or 0.
func (u Identity) CompanyID() int {
	if u.Profile == nil || u.Profile.Company == nil {
		return 0
	}
	return u.Profile.Company.ID
}

// SiteID returns the profile site id or 0.
func (u Identity) SiteID() int {
	if u.Profile == nil || u.Profile.Site == nil {
		return 0
	}
	return u.Profile.Site.ID
}

// Task is a work order as served by core/tareas/.
type Task struct {
	ID               int        `json:"id"`
	Description      string     `json:"descripcion"`
	State            TaskState  `json:"estado" enum:"INICIADA,FINALIZADA"`
	StartedAt        time.Time  `json:"fecha_inicio" format:"date-time"`
	ClosedAt         *time.Time `json:"fecha_fin,omitempty" format:"date-time"`
	Company          *Company   `json:"empresa,omitempty"`
	Site             *Site      `json:"faena,omitempty"`
	Location         *Location  `json:"ubicacion,omitempty"`
	Operator         *Identity  `json:"operador,omitempty"`
	Participants     []Identity `json:"personas_involucradas,omitempty"`
	Vehicles         []Vehicle  `json:"vehiculos,omitempty"`
	Tools            []Tool     `json:"herramientas,omitempty"`
	StartPhoto       string     `json:"foto_inicio,omitempty"`
	EndPhoto         string     `json:"foto_fin,omitempty"`
	Notes            string     `json:"observaciones,omitempty"`
	RecordedDuration *int       `json:"duracion_minutos,omitempty"`
}

func (t Task) IsOpen() bool   { return t.State == StateOpen }
func (t Task) IsClosed() bool { return t.State == StateClosed }

// OperatorKey is the username of the operator, or "#<id>" when the backend
// only sent a bare reference.
func (t Task) OperatorKey() string {
	if t.Operator == nil {
		return ""
	}
	if t.Operator.Username != "" {
		return t.Operator.Username
	}
	return "#" + strconv.Itoa(t.Operator.ID)
}

// Credentials are the bearer and refresh tokens issued by the backend.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	SavedAt string `json:"saved_at,omitempty" format:"date-time"`
}

// Event is an entry of the local activity journal.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Actor      string `json:"actor"`
	Payload    string `json:"payload_json"`
}
