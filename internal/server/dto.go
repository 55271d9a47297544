package server

import (
	"encoding/json"
	"time"

	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
	"tareas/internal/scope"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type CreateTaskRequest struct {
	Descripcion  string `json:"descripcion"`
	EmpresaID    int    `json:"empresa_id,omitempty"`
	FaenaID      int    `json:"faena_id,omitempty"`
	UbicacionID  int    `json:"ubicacion_id,omitempty"`
	OperadorID   int    `json:"operador_id,omitempty"`
	Personas     []int  `json:"personas_involucradas_ids,omitempty"`
	Vehiculos    []int  `json:"vehiculos_ids,omitempty"`
	Herramientas []int  `json:"herramientas_ids,omitempty"`
	// FotoInicio is a path readable by the server or an s3://bucket/key reference.
	FotoInicio string `json:"foto_inicio"`
}

type CloseTaskRequest struct {
	FotoFin       string `json:"foto_fin,omitempty"`
	Observaciones string `json:"observaciones,omitempty"`
}

type EditTaskRequest struct {
	Descripcion   *string `json:"descripcion,omitempty"`
	Observaciones *string `json:"observaciones,omitempty"`
	Estado        string  `json:"estado,omitempty" enum:"INICIADA,FINALIZADA"`
	OperadorID    int     `json:"operador_id,omitempty"`
	Personas      []int   `json:"personas_involucradas_ids,omitempty"`
	Vehiculos     []int   `json:"vehiculos_ids,omitempty"`
	Herramientas  []int   `json:"herramientas_ids,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Nombre   string `json:"nombre"`
	Rol      string `json:"rol,omitempty"`
	Empresa  string `json:"empresa,omitempty"`
	Faena    string `json:"faena,omitempty"`
}

type SessionResponse struct {
	Estado  string        `json:"estado" enum:"authenticated,unauthenticated"`
	Usuario *UserResponse `json:"usuario,omitempty"`
	Alcance string        `json:"alcance,omitempty"`
	EsAdmin bool          `json:"es_admin"`
	// Access is returned on login so API callers can send it as a bearer token.
	Access string `json:"access,omitempty"`
}

type TaskResponse struct {
	ID              int            `json:"id"`
	Descripcion     string         `json:"descripcion"`
	Estado          string         `json:"estado" enum:"INICIADA,FINALIZADA"`
	FechaInicio     time.Time      `json:"fecha_inicio"`
	FechaFin        *time.Time     `json:"fecha_fin,omitempty"`
	Empresa         string         `json:"empresa,omitempty"`
	Faena           string         `json:"faena,omitempty"`
	Ubicacion       string         `json:"ubicacion,omitempty"`
	Operador        *UserResponse  `json:"operador,omitempty"`
	Personas        []UserResponse `json:"personas_involucradas"`
	Vehiculos       []string       `json:"vehiculos"`
	Herramientas    []string       `json:"herramientas"`
	FotoInicioURL   string         `json:"foto_inicio_url,omitempty"`
	FotoFinURL      string         `json:"foto_fin_url,omitempty"`
	Observaciones   string         `json:"observaciones,omitempty"`
	DuracionMinutos *int           `json:"duracion_minutos,omitempty"`
	Duracion        string         `json:"duracion"`
}

type TaskListResponse struct {
	Items  []TaskResponse `json:"items"`
	Total  int            `json:"total"`
	Estado string         `json:"estado" enum:"all,open,closed"`
	Buscar string         `json:"buscar,omitempty"`
}

type DashboardResponse struct {
	Bienvenida string                 `json:"bienvenida"`
	Metricas   engine.Metrics         `json:"metricas"`
	Operadores []engine.OperatorCount `json:"por_operador"`
	Tareas     TaskListResponse       `json:"tareas"`
}

type OptionResponse struct {
	ID     int    `json:"id"`
	Nombre string `json:"nombre"`
}

type FormLocks struct {
	Empresa  bool `json:"empresa"`
	Faena    bool `json:"faena"`
	Operador bool `json:"operador"`
}

type FormSelection struct {
	EmpresaID    int   `json:"empresa_id,omitempty"`
	FaenaID      int   `json:"faena_id,omitempty"`
	UbicacionID  int   `json:"ubicacion_id,omitempty"`
	OperadorID   int   `json:"operador_id,omitempty"`
	Vehiculos    []int `json:"vehiculos_ids,omitempty"`
	Herramientas []int `json:"herramientas_ids,omitempty"`
}

type FormResponse struct {
	Alcance      string           `json:"alcance"`
	Bloqueos     FormLocks        `json:"bloqueos"`
	Seleccion    FormSelection    `json:"seleccion"`
	Empresas     []OptionResponse `json:"empresas"`
	Faenas       []OptionResponse `json:"faenas"`
	Ubicaciones  []OptionResponse `json:"ubicaciones"`
	Operadores   []UserResponse   `json:"operadores"`
	Personas     []UserResponse   `json:"personas"`
	Vehiculos    []OptionResponse `json:"vehiculos"`
	Herramientas []OptionResponse `json:"herramientas"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func userResponse(u domain.Identity) UserResponse {
	res := UserResponse{ID: u.ID, Username: u.Username, Nombre: u.DisplayName()}
	if u.Profile != nil {
		res.Rol = string(u.Profile.Role)
		if u.Profile.Company != nil {
			res.Empresa = u.Profile.Company.Name
		}
		if u.Profile.Site != nil {
			res.Faena = u.Profile.Site.Name
		}
	}
	return res
}

func userResponses(us []domain.Identity) []UserResponse {
	res := make([]UserResponse, 0, len(us))
	for _, u := range us {
		res = append(res, userResponse(u))
	}
	return res
}

func sessionResponse(status auth.Status) SessionResponse {
	if status.Kind != auth.StatusAuthenticated {
		return SessionResponse{Estado: "unauthenticated"}
	}
	u := userResponse(status.Identity)
	return SessionResponse{
		Estado:  "authenticated",
		Usuario: &u,
		Alcance: auth.ScopeOf(status.Identity).String(),
		EsAdmin: auth.IsAdmin(status.Identity),
	}
}

func taskResponse(t domain.Task, media func(string) string) TaskResponse {
	res := TaskResponse{
		ID:            t.ID,
		Descripcion:   t.Description,
		Estado:        string(t.State),
		FechaInicio:   t.StartedAt,
		FechaFin:      t.ClosedAt,
		Personas:      userResponses(t.Participants),
		Vehiculos:     []string{},
		Herramientas:  []string{},
		FotoInicioURL: media(t.StartPhoto),
		FotoFinURL:    media(t.EndPhoto),
		Observaciones: t.Notes,
		Duracion:      engine.DurationLabel(t),
	}
	if t.Company != nil {
		res.Empresa = t.Company.Name
	}
	if t.Site != nil {
		res.Faena = t.Site.Name
	}
	if t.Location != nil {
		res.Ubicacion = t.Location.Name
	}
	if t.Operator != nil {
		op := userResponse(*t.Operator)
		res.Operador = &op
	}
	for _, v := range t.Vehicles {
		res.Vehiculos = append(res.Vehiculos, v.Label())
	}
	for _, tool := range t.Tools {
		res.Herramientas = append(res.Herramientas, tool.Name)
	}
	if d, ok := engine.DurationMinutes(t); ok {
		res.DuracionMinutos = &d
	}
	return res
}

func taskListResponse(tasks []domain.Task, filter engine.StateFilter, search string, media func(string) string) TaskListResponse {
	res := TaskListResponse{Items: make([]TaskResponse, 0, len(tasks)), Estado: string(filter), Buscar: search}
	for _, t := range engine.FilterTasks(tasks, filter, search) {
		res.Items = append(res.Items, taskResponse(t, media))
	}
	res.Total = len(res.Items)
	return res
}

func formResponse(f *scope.Form) FormResponse {
	res := FormResponse{
		Alcance: f.Scope.String(),
		Bloqueos: FormLocks{
			Empresa:  f.CompanyLocked(),
			Faena:    f.SiteLocked(),
			Operador: f.OperatorLocked(),
		},
		Seleccion: FormSelection{
			EmpresaID:    f.CompanyID,
			FaenaID:      f.SiteID,
			UbicacionID:  f.LocationID,
			OperadorID:   f.OperatorID,
			Vehiculos:    f.VehicleIDs,
			Herramientas: f.ToolIDs,
		},
		Empresas:     []OptionResponse{},
		Faenas:       []OptionResponse{},
		Ubicaciones:  []OptionResponse{},
		Operadores:   userResponses(f.Operators),
		Personas:     userResponses(f.Roster),
		Vehiculos:    []OptionResponse{},
		Herramientas: []OptionResponse{},
	}
	for _, c := range f.CompanyOptions() {
		res.Empresas = append(res.Empresas, OptionResponse{ID: c.ID, Nombre: c.Name})
	}
	for _, s := range f.SiteOptions() {
		res.Faenas = append(res.Faenas, OptionResponse{ID: s.ID, Nombre: s.Name})
	}
	for _, l := range f.LocationOptions() {
		res.Ubicaciones = append(res.Ubicaciones, OptionResponse{ID: l.ID, Nombre: l.Name})
	}
	for _, v := range f.Vehicles {
		res.Vehiculos = append(res.Vehiculos, OptionResponse{ID: v.ID, Nombre: v.Label()})
	}
	for _, t := range f.Tools {
		res.Herramientas = append(res.Herramientas, OptionResponse{ID: t.ID, Nombre: t.Name})
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	var payload map[string]any
	_ = json.Unmarshal([]byte(evt.Payload), &payload)
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		Actor:      evt.Actor,
		Payload:    payload,
	}
}
