package engine_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tareas/internal/backend"
	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func closedTask(id int, op string, minutes time.Duration, recorded *int) domain.Task {
	end := t0.Add(minutes)
	return domain.Task{ID: id, Description: fmt.Sprintf("tarea %d", id), State: domain.StateClosed, StartedAt: t0, ClosedAt: &end,
		Operator: &domain.Identity{ID: id, Username: op}, RecordedDuration: recorded}
}

func openTask(id int, op, desc string) domain.Task {
	t := domain.Task{ID: id, Description: desc, State: domain.StateOpen, StartedAt: t0}
	if op != "" {
		t.Operator = &domain.Identity{ID: id, Username: op}
	}
	return t
}

func ids(tasks []domain.Task) []int {
	out := make([]int, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestFilterTasks(t *testing.T) {
	tasks := []domain.Task{
		openTask(12, "jperez", "Cambio de CORREA transportadora"),
		closedTask(7, "mrojas", 30*time.Minute, nil),
		openTask(31, "", "Revisión bomba"),
		openTask(40, "JPerez2", "Lubricación"),
	}

	assert.Equal(t, []int{12, 7, 31, 40}, ids(engine.FilterTasks(tasks, engine.FilterAll, "")))
	assert.Equal(t, []int{12, 31, 40}, ids(engine.FilterTasks(tasks, engine.FilterOpen, "")))
	assert.Equal(t, []int{7}, ids(engine.FilterTasks(tasks, engine.FilterClosed, "")))
	assert.Equal(t, []int{12}, ids(engine.FilterTasks(tasks, engine.FilterAll, "correa")))
	assert.Equal(t, []int{12, 40}, ids(engine.FilterTasks(tasks, engine.FilterOpen, "jperez")))
	assert.Equal(t, []int{31}, ids(engine.FilterTasks(tasks, engine.FilterAll, "REVISIÓN")))
	assert.Equal(t, []int{31}, ids(engine.FilterTasks(tasks, engine.FilterAll, "31")))
	assert.Empty(t, engine.FilterTasks(tasks, engine.FilterClosed, "correa"))
	assert.Empty(t, engine.FilterTasks(nil, engine.FilterAll, "x"))
}

func TestParseStateFilter(t *testing.T) {
	for in, want := range map[string]engine.StateFilter{
		"":           engine.FilterAll,
		"todas":      engine.FilterAll,
		"open":       engine.FilterOpen,
		"INICIADA":   engine.FilterOpen,
		" closed ":   engine.FilterClosed,
		"finalizada": engine.FilterClosed,
	} {
		got, err := engine.ParseStateFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := engine.ParseStateFilter("pendiente")
	assert.Equal(t, engine.KindValidation, engine.Classify(err))
}

func TestComputeMetrics(t *testing.T) {
	ninety := 90
	zero := 0
	tasks := []domain.Task{
		closedTask(1, "jperez", 10*time.Minute, &ninety),
		closedTask(2, "jperez", 45*time.Minute, nil),
		closedTask(3, "mrojas", 46*time.Minute, &zero),
		openTask(4, "mrojas", "abierta"),
	}
	m := engine.ComputeMetrics(tasks)
	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 1, m.Open)
	assert.Equal(t, 3, m.Closed)
	require.NotNil(t, m.AvgClosedMinutes)
	// (90 + 45 + 46) / 3 = 60.33
	assert.Equal(t, 60, *m.AvgClosedMinutes)
	assert.Equal(t, "60 min", m.AvgLabel())

	half := engine.ComputeMetrics([]domain.Task{
		closedTask(1, "a", 45*time.Minute, nil),
		closedTask(2, "b", 90*time.Minute, nil),
	})
	assert.Equal(t, 68, *half.AvgClosedMinutes)

	onlyOpen := engine.ComputeMetrics([]domain.Task{openTask(1, "a", "x")})
	assert.Equal(t, engine.Metrics{Total: 1, Open: 1}, onlyOpen)
	assert.Equal(t, "-", onlyOpen.AvgLabel())

	assert.Equal(t, engine.Metrics{}, engine.ComputeMetrics(nil))
}

func TestDurationMinutes(t *testing.T) {
	d, ok := engine.DurationMinutes(closedTask(1, "a", 89*time.Minute+30*time.Second, nil))
	require.True(t, ok)
	assert.Equal(t, 90, d)

	_, ok = engine.DurationMinutes(openTask(2, "a", "x"))
	assert.False(t, ok)

	backwards := closedTask(3, "a", -5*time.Minute, nil)
	_, ok = engine.DurationMinutes(backwards)
	assert.False(t, ok)
	assert.Equal(t, "-", engine.DurationLabel(backwards))
	assert.Equal(t, "20 min", engine.DurationLabel(closedTask(4, "a", 20*time.Minute, nil)))
}

func TestOperatorBreakdown(t *testing.T) {
	tasks := []domain.Task{
		openTask(1, "mrojas", "a"),
		closedTask(2, "jperez", time.Minute, nil),
		openTask(3, "", "sin operador"),
		openTask(4, "jperez", "b"),
		closedTask(5, "mrojas", time.Minute, nil),
		{ID: 6, State: domain.StateOpen, Operator: &domain.Identity{ID: 9}},
	}
	assert.Equal(t, []engine.OperatorCount{
		{Operator: "mrojas", Open: 1, Closed: 1},
		{Operator: "jperez", Open: 1, Closed: 1},
		{Operator: "#9", Open: 1},
	}, engine.OperatorBreakdown(tasks))
	assert.Empty(t, engine.OperatorBreakdown(nil))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want engine.ErrorKind
	}{
		{nil, engine.KindNone},
		{&engine.ValidationError{Field: "x", Message: "y"}, engine.KindValidation},
		{fmt.Errorf("wrap: %w", engine.ErrInvalidTransition), engine.KindValidation},
		{&backend.APIError{StatusCode: http.StatusUnauthorized}, engine.KindUnauthenticated},
		{engine.ErrUnauthenticated, engine.KindUnauthenticated},
		{&backend.APIError{StatusCode: http.StatusForbidden}, engine.KindUnauthorized},
		{auth.ForbiddenError{Permission: "task.edit"}, engine.KindUnauthorized},
		{&backend.APIError{StatusCode: http.StatusBadRequest, Body: "{}"}, engine.KindValidation},
		{&backend.APIError{StatusCode: http.StatusBadGateway}, engine.KindTransient},
		{context.DeadlineExceeded, engine.KindTransient},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, engine.Classify(c.err), fmt.Sprint(c.err))
	}
	assert.Equal(t, "El servidor no respondió a tiempo. Intenta nuevamente.", engine.Message(fmt.Errorf("list: %w", context.DeadlineExceeded)))
	assert.Equal(t, "Debes iniciar sesión.", engine.Message(&backend.APIError{StatusCode: http.StatusUnauthorized}))
	assert.Equal(t, "", engine.Message(nil))
}
