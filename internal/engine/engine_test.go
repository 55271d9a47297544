package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tareas/internal/backend"
	"tareas/internal/backend/backendtest"
	"tareas/internal/db"
	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
	"tareas/internal/events"
	"tareas/internal/migrate"
	"tareas/internal/photo"
	"tareas/internal/repo"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

type stubPhotos struct {
	opened []string
}

func (s *stubPhotos) Open(_ context.Context, ref string) (*photo.Photo, error) {
	s.opened = append(s.opened, ref)
	if strings.HasSuffix(ref, ".txt") {
		return nil, photo.ErrNotImage
	}
	return &photo.Photo{Filename: filepath.Base(ref), ContentType: "image/jpeg", Reader: strings.NewReader("\xff\xd8\xff")}, nil
}

type testEnv struct {
	Engine engine.Engine
	Fake   *backendtest.Fake
	Photos *stubPhotos
	Ctx    context.Context
}

var now = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T, userID int) testEnv {
	t.Helper()
	fake := backendtest.Seeded()
	t.Cleanup(fake.Close)
	photos := &stubPhotos{}
	client := backend.New(fake.URL(), staticToken(fake.Issue(userID)), nil)
	eng := engine.New(client, photos, events.Writer{}, nil)
	eng.Now = func() time.Time { return now }
	return testEnv{Engine: eng, Fake: fake, Photos: photos, Ctx: context.Background()}
}

func (env testEnv) task(t *testing.T, id int) domain.Task {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, id)
	require.NoError(t, err)
	env.Fake.ResetCalls()
	return task
}

func createOptions() engine.TaskCreateOptions {
	return engine.TaskCreateOptions{
		Description:    "  Cambio de filtro  ",
		CompanyID:      1,
		SiteID:         10,
		LocationID:     100,
		OperatorID:     backendtest.OperatorID,
		ParticipantIDs: []int{backendtest.CompanyAdminID, backendtest.SiteAdminID},
		VehicleIDs:     []int{1},
		ToolIDs:        []int{1, 2},
		StartPhoto:     "/tmp/inicio.jpg",
		Actor:          "admin.rajo",
	}
}

func TestCreateTaskSubmitsMultipart(t *testing.T) {
	env := newTestEnv(t, backendtest.SiteAdminID)

	task, err := env.Engine.CreateTask(env.Ctx, createOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, task.ID)
	assert.Equal(t, domain.StateOpen, task.State)
	assert.Equal(t, "Cambio de filtro", task.Description)
	assert.Equal(t, "/media/fotos_tareas/inicio.jpg", task.StartPhoto)
	require.NotNil(t, task.Operator)
	assert.Equal(t, "jperez", task.Operator.Username)
	assert.Len(t, task.Participants, 2)
	assert.Len(t, task.Tools, 2)

	subs := env.Fake.Submissions()
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "POST", sub.Method)
	assert.Equal(t, "2024-03-01T10:30:00.000Z", sub.First("fecha_inicio"))
	assert.Equal(t, "INICIADA", sub.First("estado"))
	assert.Equal(t, []string{"2", "3"}, sub.Fields["personas_involucradas_ids"])
	assert.Equal(t, []string{"1", "2"}, sub.Fields["herramientas_ids"])
	assert.Equal(t, "inicio.jpg", sub.Files["foto_inicio"])
}

func TestCreateTaskValidatesBeforeSending(t *testing.T) {
	env := newTestEnv(t, backendtest.SiteAdminID)
	cases := map[string]func(*engine.TaskCreateOptions){
		"descripcion": func(o *engine.TaskCreateOptions) { o.Description = "   " },
		"empresa":     func(o *engine.TaskCreateOptions) { o.CompanyID = 0 },
		"faena":       func(o *engine.TaskCreateOptions) { o.SiteID = 0 },
		"ubicacion":   func(o *engine.TaskCreateOptions) { o.LocationID = 0 },
		"operador":    func(o *engine.TaskCreateOptions) { o.OperatorID = 0 },
		"foto_inicio": func(o *engine.TaskCreateOptions) { o.StartPhoto = "" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			opts := createOptions()
			mutate(&opts)
			_, err := env.Engine.CreateTask(env.Ctx, opts)
			var ve *engine.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, field, ve.Field)
			assert.NotEmpty(t, engine.Message(err))
		})
	}

	opts := createOptions()
	opts.StartPhoto = "/tmp/notas.txt"
	_, err := env.Engine.CreateTask(env.Ctx, opts)
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "El archivo no es una imagen.", ve.Message)

	assert.Empty(t, env.Fake.Calls())
}

func TestCreateTaskRejectedByBackend(t *testing.T) {
	env := newTestEnv(t, backendtest.SiteAdminID)
	env.Fake.RejectCreate = `{"ubicacion_id":["Ubicación no pertenece a la faena."]}`

	_, err := env.Engine.CreateTask(env.Ctx, createOptions())
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Diagnostic, "Ubicación no pertenece")
	assert.Equal(t, engine.KindValidation, engine.Classify(err))
}

func TestCloseTask(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	open := env.task(t, 2)

	closed, err := env.Engine.CloseTask(env.Ctx, open, engine.CloseOptions{EndPhoto: "s3://evidencia/fin.png", Notes: "sin novedad"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosed, closed.State)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(now))
	assert.Equal(t, "/media/fotos_tareas/fin.png", closed.EndPhoto)
	assert.Equal(t, "sin novedad", closed.Notes)
	require.NotNil(t, closed.RecordedDuration)
	assert.Equal(t, 90, *closed.RecordedDuration)

	sub := env.Fake.Submissions()[0]
	assert.Equal(t, "PATCH", sub.Method)
	assert.Equal(t, "/core/tareas/2/", sub.Path)
	assert.Equal(t, "FINALIZADA", sub.First("estado"))
	assert.Equal(t, "fin.png", sub.Files["foto_fin"])
	assert.Equal(t, []string{"s3://evidencia/fin.png"}, env.Photos.opened)
}

func TestCloseTaskRequiresPhotoAndOpenState(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	open := env.task(t, 2)
	done := env.task(t, 1)

	_, err := env.Engine.CloseTask(env.Ctx, open, engine.CloseOptions{Notes: "falta foto"})
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "foto_fin", ve.Field)

	_, err = env.Engine.CloseTask(env.Ctx, done, engine.CloseOptions{EndPhoto: "/tmp/fin.jpg"})
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	assert.Equal(t, "La tarea ya está finalizada.", engine.Message(err))

	assert.Empty(t, env.Fake.Calls())
	assert.Empty(t, env.Photos.opened)
}

func TestEditTaskRequiresAdminAndOperator(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	task := env.task(t, 2)
	desc := "Revisión bomba 2"

	_, err := env.Engine.EditTask(env.Ctx, env.Fake.User(backendtest.OperatorID), task, engine.EditOptions{Description: &desc, OperatorID: backendtest.OperatorID})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "task.edit", fe.Permission)
	assert.Equal(t, engine.KindUnauthorized, engine.Classify(err))

	_, err = env.Engine.EditTask(env.Ctx, env.Fake.User(backendtest.CompanyAdminID), task, engine.EditOptions{Description: &desc})
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Debes seleccionar un operador.", ve.Message)

	_, err = env.Engine.EditTask(env.Ctx, env.Fake.User(backendtest.CompanyAdminID), task, engine.EditOptions{State: domain.StateClosed, OperatorID: backendtest.OtherSiteOpID})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "estado", ve.Field)

	assert.Empty(t, env.Fake.Calls())
}

func TestEditTaskSendsJSONPatch(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	task := env.task(t, 2)
	desc := "Revisión bomba principal"
	notes := "cambiar sello"

	edited, err := env.Engine.EditTask(env.Ctx, env.Fake.User(backendtest.CompanyAdminID), task, engine.EditOptions{
		Description: &desc,
		Notes:       &notes,
		OperatorID:  backendtest.OperatorID,
		VehicleIDs:  []int{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, desc, edited.Description)
	assert.Equal(t, notes, edited.Notes)
	assert.Equal(t, "jperez", edited.Operator.Username)
	assert.Len(t, edited.Vehicles, 2)
	assert.Equal(t, domain.StateOpen, edited.State)

	sub := env.Fake.Submissions()[0]
	require.NotNil(t, sub.JSON)
	assert.NotContains(t, sub.JSON, "estado")
	assert.NotContains(t, sub.JSON, "herramientas_ids")
}

func TestEditTaskReopenClearsClose(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	done := env.task(t, 1)

	reopened, err := env.Engine.EditTask(env.Ctx, env.Fake.User(backendtest.SiteAdminID), done, engine.EditOptions{
		State:      domain.StateOpen,
		OperatorID: backendtest.OperatorID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, reopened.State)
	assert.Nil(t, reopened.ClosedAt)
	assert.Empty(t, reopened.EndPhoto)
	assert.Nil(t, reopened.RecordedDuration)

	sub := env.Fake.Submissions()[0]
	assert.Contains(t, sub.JSON, "fecha_fin")
	assert.Nil(t, sub.JSON["fecha_fin"])
	assert.Equal(t, "INICIADA", sub.JSON["estado"])
}

func TestTransition(t *testing.T) {
	next, err := engine.Transition(domain.StateOpen, engine.ActionClose)
	require.NoError(t, err)
	assert.Equal(t, domain.StateClosed, next)

	next, err = engine.Transition(domain.StateClosed, engine.ActionReopen)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, next)

	_, err = engine.Transition(domain.StateClosed, engine.ActionClose)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = engine.Transition(domain.StateOpen, engine.ActionReopen)
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestLifecycleIsJournaled(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	env.Engine.Events = events.Writer{DB: conn, Now: func() time.Time { return now }}

	task, err := env.Engine.CreateTask(env.Ctx, createOptions())
	require.NoError(t, err)
	_, err = env.Engine.CloseTask(env.Ctx, task, engine.CloseOptions{EndPhoto: "/tmp/fin.jpg", Actor: "jperez"})
	require.NoError(t, err)

	evts, err := repo.Repo{DB: conn}.LatestEvents(env.Ctx, 10, repo.EventFilters{EntityKind: "task"})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "task.close", evts[0].Type)
	assert.Equal(t, "jperez", evts[0].Actor)
	assert.Equal(t, "task.create", evts[1].Type)
	assert.Equal(t, "4", evts[1].EntityID)
}

func TestListTasksTransientFailure(t *testing.T) {
	env := newTestEnv(t, backendtest.SuperAdminID)
	env.Fake.FailPaths = []string{"/core/tareas/"}

	_, err := env.Engine.ListTasks(env.Ctx)
	require.Error(t, err)
	assert.Equal(t, engine.KindTransient, engine.Classify(err))
	assert.True(t, errors.As(err, new(*backend.APIError)))
}
