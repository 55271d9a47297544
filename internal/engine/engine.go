package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tareas/internal/backend"
	"tareas/internal/domain"
	"tareas/internal/engine/auth"
	"tareas/internal/events"
	"tareas/internal/photo"
)

// isoMillis matches the timestamps the web client sends.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Backend is the task surface of the REST backend.
type Backend interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id int) (domain.Task, error)
	CreateTask(ctx context.Context, form *backend.Form) (domain.Task, error)
	PatchTaskForm(ctx context.Context, id int, form *backend.Form) (domain.Task, error)
	PatchTask(ctx context.Context, id int, fields map[string]any) (domain.Task, error)
}

type Engine struct {
	Backend Backend
	Photos  photo.Source
	Events  events.Writer
	Now     func() time.Time
	Logger  *logrus.Logger
}

func New(b Backend, photos photo.Source, ev events.Writer, logger *logrus.Logger) Engine {
	return Engine{
		Backend: b,
		Photos:  photos,
		Events:  ev,
		Now:     time.Now,
		Logger:  logger,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

// ListTasks returns every task the backend lets the caller see, in backend order.
func (e Engine) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return e.Backend.ListTasks(ctx)
}

func (e Engine) GetTask(ctx context.Context, id int) (domain.Task, error) {
	return e.Backend.GetTask(ctx, id)
}

// Action is a lifecycle transition request.
type Action string

const (
	ActionClose  Action = "close"
	ActionReopen Action = "reopen"
)

// Transition returns the state an action leads to from the given state.
func Transition(from domain.TaskState, action Action) (domain.TaskState, error) {
	switch {
	case action == ActionClose && from == domain.StateOpen:
		return domain.StateClosed, nil
	case action == ActionReopen && from == domain.StateClosed:
		return domain.StateOpen, nil
	}
	return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Description    string
	CompanyID      int
	SiteID         int
	LocationID     int
	OperatorID     int
	ParticipantIDs []int
	VehicleIDs     []int
	ToolIDs        []int
	// StartPhoto is a local path or s3://bucket/key reference.
	StartPhoto string
	Actor      string
}

func (o TaskCreateOptions) validate() error {
	switch {
	case strings.TrimSpace(o.Description) == "":
		return &ValidationError{Field: "descripcion", Message: "La descripción es obligatoria."}
	case o.CompanyID <= 0:
		return &ValidationError{Field: "empresa", Message: "Debes seleccionar una empresa."}
	case o.SiteID <= 0:
		return &ValidationError{Field: "faena", Message: "Debes seleccionar una faena."}
	case o.LocationID <= 0:
		return &ValidationError{Field: "ubicacion", Message: "Debes seleccionar una ubicación."}
	case o.OperatorID <= 0:
		return &ValidationError{Field: "operador", Message: "Debes seleccionar un operador."}
	case strings.TrimSpace(o.StartPhoto) == "":
		return &ValidationError{Field: "foto_inicio", Message: "Debes adjuntar la foto de inicio."}
	}
	return nil
}

// CreateTask submits a new OPEN task. Nothing is sent when a required field
// is missing or the start photo cannot be read.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := opts.validate(); err != nil {
		return domain.Task{}, err
	}
	p, err := e.openPhoto(ctx, "foto_inicio", opts.StartPhoto)
	if err != nil {
		return domain.Task{}, err
	}
	defer p.Close()

	form := backend.NewForm().
		AddInt("empresa_id", opts.CompanyID).
		AddInt("faena_id", opts.SiteID).
		AddInt("ubicacion_id", opts.LocationID).
		AddInt("operador_id", opts.OperatorID).
		AddInts("personas_involucradas_ids", opts.ParticipantIDs).
		AddInts("vehiculos_ids", opts.VehicleIDs).
		AddInts("herramientas_ids", opts.ToolIDs).
		Add("descripcion", strings.TrimSpace(opts.Description)).
		Add("estado", string(domain.StateOpen)).
		Add("fecha_inicio", e.now().UTC().Format(isoMillis)).
		File("foto_inicio", p.Filename, p)

	t, err := e.Backend.CreateTask(ctx, form)
	if err != nil {
		return domain.Task{}, rejected(err, "El servidor rechazó la tarea.")
	}
	e.logger().WithFields(logrus.Fields{"task_id": t.ID, "operator_id": opts.OperatorID}).Info("task created")
	e.journal(ctx, "task.create", t.ID, opts.Actor, events.EventPayload{"descripcion": t.Description})
	return t, nil
}

// CloseOptions are parameters for closing a task.
type CloseOptions struct {
	EndPhoto string
	Notes    string
	Actor    string
}

// CloseTask finalizes an OPEN task with its end photo. A missing photo is
// rejected before any request is made.
func (e Engine) CloseTask(ctx context.Context, task domain.Task, opts CloseOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.EndPhoto) == "" {
		return domain.Task{}, &ValidationError{Field: "foto_fin", Message: "Debes adjuntar la foto de término."}
	}
	next, err := Transition(task.State, ActionClose)
	if err != nil {
		return domain.Task{}, err
	}
	p, err := e.openPhoto(ctx, "foto_fin", opts.EndPhoto)
	if err != nil {
		return domain.Task{}, err
	}
	defer p.Close()

	form := backend.NewForm().
		Add("estado", string(next)).
		Add("fecha_fin", e.now().UTC().Format(isoMillis)).
		Add("observaciones", opts.Notes).
		File("foto_fin", p.Filename, p)
	t, err := e.Backend.PatchTaskForm(ctx, task.ID, form)
	if err != nil {
		return domain.Task{}, rejected(err, "El servidor rechazó el cierre de la tarea.")
	}
	e.logger().WithField("task_id", task.ID).Info("task closed")
	e.journal(ctx, "task.close", task.ID, opts.Actor, nil)
	return t, nil
}

// EditOptions are the fields an administrator may change. Nil pointers and
// nil slices leave the field unchanged; an empty slice clears it.
type EditOptions struct {
	Description    *string
	Notes          *string
	State          domain.TaskState
	OperatorID     int
	ParticipantIDs []int
	VehicleIDs     []int
	ToolIDs        []int
}

// EditTask applies an administrator's changes. Closing goes through CloseTask
// so the end photo is always attached; moving a CLOSED task back to OPEN
// clears its close timestamp and end photo.
func (e Engine) EditTask(ctx context.Context, editor domain.Identity, task domain.Task, opts EditOptions) (domain.Task, error) {
	if !auth.IsAdmin(editor) {
		return domain.Task{}, auth.ForbiddenError{Permission: "task.edit"}
	}
	if opts.OperatorID <= 0 {
		return domain.Task{}, &ValidationError{Field: "operador", Message: "Debes seleccionar un operador."}
	}
	fields := map[string]any{"operador_id": opts.OperatorID}
	if opts.Description != nil {
		if strings.TrimSpace(*opts.Description) == "" {
			return domain.Task{}, &ValidationError{Field: "descripcion", Message: "La descripción es obligatoria."}
		}
		fields["descripcion"] = strings.TrimSpace(*opts.Description)
	}
	if opts.Notes != nil {
		fields["observaciones"] = *opts.Notes
	}
	reopened := false
	if opts.State != "" && opts.State != task.State {
		switch opts.State {
		case domain.StateClosed:
			return domain.Task{}, &ValidationError{Field: "estado", Message: "Para finalizar una tarea usa cerrar, que exige la foto de término."}
		case domain.StateOpen:
			if _, err := Transition(task.State, ActionReopen); err != nil {
				return domain.Task{}, err
			}
			fields["estado"] = string(domain.StateOpen)
			fields["fecha_fin"] = nil
			fields["foto_fin"] = nil
			reopened = true
		default:
			return domain.Task{}, &ValidationError{Field: "estado", Message: "Estado desconocido: " + string(opts.State)}
		}
	}
	if opts.ParticipantIDs != nil {
		fields["personas_involucradas_ids"] = opts.ParticipantIDs
	}
	if opts.VehicleIDs != nil {
		fields["vehiculos_ids"] = opts.VehicleIDs
	}
	if opts.ToolIDs != nil {
		fields["herramientas_ids"] = opts.ToolIDs
	}

	t, err := e.Backend.PatchTask(ctx, task.ID, fields)
	if err != nil {
		return domain.Task{}, rejected(err, "No se pudo actualizar la tarea.")
	}
	log := e.logger().WithFields(logrus.Fields{"task_id": task.ID, "editor": editor.Username})
	if reopened {
		log.Warn("closed task reopened; close timestamp and end photo cleared")
	} else {
		log.Info("task edited")
	}
	e.journal(ctx, "task.edit", task.ID, editor.Username, events.EventPayload{"reopened": reopened})
	return t, nil
}

func (e Engine) openPhoto(ctx context.Context, field, ref string) (*photo.Photo, error) {
	if e.Photos == nil {
		return nil, errors.New("photo source not configured")
	}
	p, err := e.Photos.Open(ctx, ref)
	if err != nil {
		msg := "No se pudo leer la foto."
		if errors.Is(err, photo.ErrNotImage) {
			msg = "El archivo no es una imagen."
		}
		return nil, &ValidationError{Field: field, Message: msg, Diagnostic: err.Error()}
	}
	return p, nil
}

func (e Engine) journal(ctx context.Context, evtType string, taskID int, actor string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, "task", strconv.Itoa(taskID), actor, payload); err != nil {
		e.logger().WithError(err).Warn("journal append failed")
	}
}
