// Package backendtest provides an in-memory work-order backend for tests.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"tareas/internal/domain"
)

// Fake mimics the backend's REST surface, including its role scoping of
// tasks and users.
type Fake struct {
	mu sync.Mutex

	Users     []domain.Identity
	Passwords map[string]string
	Companies []domain.Company
	Sites     []domain.Site
	Locations []domain.Location
	Vehicles  []domain.Vehicle
	Tools     []domain.Tool
	Tasks     []domain.Task

	// RejectCreate makes task creation answer 400 with this body.
	RejectCreate string
	// FailPaths answers 500 for request paths with any of these suffixes.
	FailPaths []string

	tokens map[string]int
	calls  []string
	forms  []Submission
	server *httptest.Server
}

// Submission is a multipart or JSON body the fake received.
type Submission struct {
	Method string
	Path   string
	Fields map[string][]string
	Files  map[string]string
	JSON   map[string]any
}

// New starts the fake. The base URL ends in /api like the real deployment.
func New() *Fake {
	f := &Fake{Passwords: map[string]string{}, tokens: map[string]int{}}
	r := chi.NewRouter()
	r.Use(f.record)
	r.Route("/api", func(r chi.Router) {
		r.Post("/token/", f.token)
		r.Post("/token/refresh/", f.refresh)
		r.Group(func(r chi.Router) {
			r.Use(f.authenticate)
			r.Get("/core/me/", f.me)
			r.Get("/core/tareas/", f.listTasks)
			r.Post("/core/tareas/", f.createTask)
			r.Get("/core/tareas/{id}/", f.getTask)
			r.Patch("/core/tareas/{id}/", f.patchTask)
			r.Get("/core/users/", f.listUsers)
			r.Get("/core/empresas/", listOf(f, func() any { return f.Companies }))
			r.Get("/core/faenas/", listOf(f, func() any { return f.Sites }))
			r.Get("/core/ubicaciones/", listOf(f, func() any { return f.Locations }))
			r.Get("/core/vehiculos/", f.listVehicles)
			r.Get("/core/herramientas/", f.listTools)
		})
	})
	f.server = httptest.NewServer(r)
	return f
}

func (f *Fake) URL() string { return f.server.URL + "/api" }
func (f *Fake) Close()      { f.server.Close() }

// Issue registers a token for the user and returns it.
func (f *Fake) Issue(userID int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := "tok-" + strconv.Itoa(userID) + "-" + strconv.Itoa(len(f.tokens))
	f.tokens[token] = userID
	return token
}

// Calls returns "METHOD /path?query" for every request received.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Submissions returns every write body received.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.forms...)
}

func (f *Fake) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api")
		if r.URL.RawQuery != "" {
			call += "?" + r.URL.RawQuery
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		fail := false
		for _, p := range f.FailPaths {
			if strings.HasSuffix(r.URL.Path, p) {
				fail = true
			}
		}
		f.mu.Unlock()
		if fail {
			http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (f *Fake) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		id, ok := f.tokens[token]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		user, ok := f.user(id)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "User not found"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r, user)))
	})
}

func (f *Fake) token(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	pw, ok := f.Passwords[body.Username]
	f.mu.Unlock()
	if !ok || pw != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	for _, u := range f.Users {
		if u.Username == body.Username {
			access := f.Issue(u.ID)
			writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": "ref-" + strconv.Itoa(u.ID)})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
}

func (f *Fake) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	id, err := strconv.Atoi(strings.TrimPrefix(body.Refresh, "ref-"))
	if err != nil || !strings.HasPrefix(body.Refresh, "ref-") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": f.Issue(id)})
}

func (f *Fake) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (f *Fake) listTasks(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Task
	for _, t := range f.Tasks {
		if taskVisible(user, t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if out == nil {
		out = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *Fake) getTask(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	user := currentUser(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.Tasks {
		if t.ID == id && taskVisible(user, t) {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No encontrado."})
}

func (f *Fake) createTask(w http.ResponseWriter, r *http.Request) {
	sub, err := readSubmission(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	f.mu.Lock()
	f.forms = append(f.forms, sub)
	reject := f.RejectCreate
	f.mu.Unlock()
	if reject != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, reject)
		return
	}
	errs := map[string][]string{}
	for _, field := range []string{"empresa_id", "faena_id", "ubicacion_id", "operador_id", "descripcion", "fecha_inicio"} {
		if sub.first(field) == "" {
			errs[field] = []string{"Este campo es requerido."}
		}
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}
	started, err := time.Parse(time.RFC3339Nano, sub.first("fecha_inicio"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"fecha_inicio": {"Formato inválido."}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	next := 1
	for _, existing := range f.Tasks {
		if existing.ID >= next {
			next = existing.ID + 1
		}
	}
	t := domain.Task{
		ID:          next,
		Description: sub.first("descripcion"),
		State:       domain.TaskState(sub.first("estado")),
		StartedAt:   started,
	}
	f.applyRefs(&t, sub)
	if name, ok := sub.Files["foto_inicio"]; ok {
		t.StartPhoto = "/media/fotos_tareas/" + name
	}
	f.Tasks = append(f.Tasks, t)
	writeJSON(w, http.StatusCreated, t)
}

func (f *Fake) patchTask(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	sub, err := readSubmission(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms = append(f.forms, sub)
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.ID != id {
			continue
		}
		if v := sub.first("descripcion"); v != "" {
			t.Description = v
		}
		if _, ok := sub.value("observaciones"); ok {
			t.Notes = sub.first("observaciones")
		}
		if v := sub.first("estado"); v != "" {
			t.State = domain.TaskState(v)
		}
		if raw, ok := sub.value("fecha_fin"); ok {
			if raw == nil {
				t.ClosedAt = nil
			} else if ts, err := time.Parse(time.RFC3339Nano, sub.first("fecha_fin")); err == nil {
				t.ClosedAt = &ts
			}
		}
		if raw, ok := sub.value("foto_fin"); ok && raw == nil {
			t.EndPhoto = ""
		}
		if name, ok := sub.Files["foto_fin"]; ok {
			t.EndPhoto = "/media/fotos_tareas/" + name
		}
		f.applyRefs(t, sub)
		if t.State == domain.StateClosed && t.ClosedAt != nil {
			mins := int(t.ClosedAt.Sub(t.StartedAt).Minutes())
			t.RecordedDuration = &mins
		} else {
			t.RecordedDuration = nil
		}
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No encontrado."})
}

func (f *Fake) applyRefs(t *domain.Task, sub Submission) {
	if id := sub.intValue("empresa_id"); id > 0 {
		for _, c := range f.Companies {
			if c.ID == id {
				c := c
				t.Company = &c
			}
		}
	}
	if id := sub.intValue("faena_id"); id > 0 {
		for _, s := range f.Sites {
			if s.ID == id {
				s := s
				t.Site = &s
			}
		}
	}
	if id := sub.intValue("ubicacion_id"); id > 0 {
		for _, l := range f.Locations {
			if l.ID == id {
				l := l
				t.Location = &l
			}
		}
	}
	if id := sub.intValue("operador_id"); id > 0 {
		if u, ok := f.userLocked(id); ok {
			t.Operator = &u
		}
	}
	if ids, ok := sub.ints("personas_involucradas_ids"); ok {
		t.Participants = nil
		for _, id := range ids {
			if u, ok := f.userLocked(id); ok {
				t.Participants = append(t.Participants, u)
			}
		}
	}
	if ids, ok := sub.ints("vehiculos_ids"); ok {
		t.Vehicles = nil
		for _, id := range ids {
			for _, v := range f.Vehicles {
				if v.ID == id {
					t.Vehicles = append(t.Vehicles, v)
				}
			}
		}
	}
	if ids, ok := sub.ints("herramientas_ids"); ok {
		t.Tools = nil
		for _, id := range ids {
			for _, tool := range f.Tools {
				if tool.ID == id {
					t.Tools = append(t.Tools, tool)
				}
			}
		}
	}
}

func (f *Fake) listUsers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	company, _ := strconv.Atoi(r.URL.Query().Get("empresa_id"))
	site, _ := strconv.Atoi(r.URL.Query().Get("faena_id"))
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Identity{}
	for _, u := range f.Users {
		if userVisible(user, u, company, site) {
			out = append(out, u)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *Fake) listVehicles(w http.ResponseWriter, r *http.Request) {
	company, _ := strconv.Atoi(r.URL.Query().Get("empresa_id"))
	site, _ := strconv.Atoi(r.URL.Query().Get("faena_id"))
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Vehicle{}
	for _, v := range f.Vehicles {
		if matches(v.CompanyID, v.SiteID, company, site) {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *Fake) listTools(w http.ResponseWriter, r *http.Request) {
	company, _ := strconv.Atoi(r.URL.Query().Get("empresa_id"))
	site, _ := strconv.Atoi(r.URL.Query().Get("faena_id"))
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Tool{}
	for _, t := range f.Tools {
		if matches(t.CompanyID, t.SiteID, company, site) {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func listOf(f *Fake, items func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		v := items()
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, v)
	}
}

func (f *Fake) user(id int) (domain.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userLocked(id)
}

func (f *Fake) userLocked(id int) (domain.Identity, bool) {
	for _, u := range f.Users {
		if u.ID == id {
			return u, true
		}
	}
	return domain.Identity{}, false
}

func matches(company int, site *int, wantCompany, wantSite int) bool {
	if wantCompany > 0 && company != wantCompany {
		return false
	}
	if wantSite > 0 && (site == nil || *site != wantSite) {
		return false
	}
	return true
}

func taskVisible(user domain.Identity, t domain.Task) bool {
	if user.IsSuperuser {
		return true
	}
	if user.Profile == nil {
		return false
	}
	switch user.Profile.Role {
	case domain.RoleAdmin:
		if t.Company == nil || t.Company.ID != user.CompanyID() {
			return false
		}
		return user.SiteID() == 0 || (t.Site != nil && t.Site.ID == user.SiteID())
	case domain.RoleOperator:
		return t.Operator != nil && t.Operator.ID == user.ID
	}
	return false
}

func userVisible(user, u domain.Identity, company, site int) bool {
	switch {
	case user.IsSuperuser:
		return (company == 0 || u.CompanyID() == company) && (site == 0 || u.SiteID() == site)
	case user.Profile == nil:
		return false
	case user.Profile.Role == domain.RoleAdmin && user.SiteID() == 0:
		return u.CompanyID() == user.CompanyID() && (site == 0 || u.SiteID() == site)
	case user.Profile.Role == domain.RoleAdmin:
		return u.CompanyID() == user.CompanyID() && u.SiteID() == user.SiteID()
	case user.Profile.Role == domain.RoleOperator:
		return u.ID == user.ID
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
