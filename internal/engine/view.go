package engine

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"tareas/internal/domain"
)

// StateFilter selects tasks by state in the list view.
type StateFilter string

const (
	FilterAll    StateFilter = "all"
	FilterOpen   StateFilter = "open"
	FilterClosed StateFilter = "closed"
)

// ParseStateFilter accepts the filter names and the backend state values.
func ParseStateFilter(s string) (StateFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "todas":
		return FilterAll, nil
	case "open", "iniciada":
		return FilterOpen, nil
	case "closed", "finalizada":
		return FilterClosed, nil
	}
	return "", &ValidationError{Field: "estado", Message: "Filtro de estado inválido: " + s}
}

func (f StateFilter) matches(t domain.Task) bool {
	switch f {
	case FilterOpen:
		return t.State == domain.StateOpen
	case FilterClosed:
		return t.State == domain.StateClosed
	default:
		return true
	}
}

// FilterTasks keeps tasks that pass the state filter and whose description,
// operator username or id contain search, ignoring case. Order is preserved.
func FilterTasks(tasks []domain.Task, filter StateFilter, search string) []domain.Task {
	fold := cases.Fold()
	needle := fold.String(search)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if !filter.matches(t) {
			continue
		}
		if needle != "" && !containsFolded(fold, needle, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func containsFolded(fold cases.Caser, needle string, t domain.Task) bool {
	if strings.Contains(fold.String(t.Description), needle) {
		return true
	}
	if t.Operator != nil && strings.Contains(fold.String(t.Operator.Username), needle) {
		return true
	}
	return strings.Contains(strconv.Itoa(t.ID), needle)
}

// Metrics summarise a task set for the dashboard.
type Metrics struct {
	Total  int `json:"total"`
	Open   int `json:"iniciadas"`
	Closed int `json:"finalizadas"`
	// AvgClosedMinutes is nil when no task is closed.
	AvgClosedMinutes *int `json:"promedio_minutos"`
}

// AvgLabel renders the average for display.
func (m Metrics) AvgLabel() string {
	if m.AvgClosedMinutes == nil {
		return "-"
	}
	return strconv.Itoa(*m.AvgClosedMinutes) + " min"
}

// ComputeMetrics counts tasks by state and averages the duration of closed
// tasks. A closed task contributes the backend's recorded duration, or the
// duration derived from its timestamps when none was recorded.
func ComputeMetrics(tasks []domain.Task) Metrics {
	var m Metrics
	var sum int
	for _, t := range tasks {
		m.Total++
		switch t.State {
		case domain.StateOpen:
			m.Open++
		case domain.StateClosed:
			m.Closed++
			if t.RecordedDuration != nil && *t.RecordedDuration > 0 {
				sum += *t.RecordedDuration
			} else if d, ok := DurationMinutes(t); ok {
				sum += d
			}
		}
	}
	if m.Closed > 0 {
		avg := roundHalfUp(float64(sum) / float64(m.Closed))
		m.AvgClosedMinutes = &avg
	}
	return m
}

// DurationMinutes is the rounded number of minutes between start and close.
// It is undefined for open tasks and when the close precedes the start.
func DurationMinutes(t domain.Task) (int, bool) {
	if t.ClosedAt == nil || t.StartedAt.IsZero() {
		return 0, false
	}
	d := t.ClosedAt.Sub(t.StartedAt)
	if d < 0 {
		return 0, false
	}
	return roundHalfUp(d.Minutes()), true
}

// DurationLabel renders DurationMinutes, "-" when undefined.
func DurationLabel(t domain.Task) string {
	d, ok := DurationMinutes(t)
	if !ok {
		return "-"
	}
	return strconv.Itoa(d) + " min"
}

// OperatorCount is one row of the per-operator chart.
type OperatorCount struct {
	Operator string `json:"operador"`
	Open     int    `json:"iniciadas"`
	Closed   int    `json:"finalizadas"`
}

// OperatorBreakdown counts open and closed tasks per operator in the order
// operators first appear. Tasks without an operator are skipped.
func OperatorBreakdown(tasks []domain.Task) []OperatorCount {
	index := map[string]int{}
	var out []OperatorCount
	for _, t := range tasks {
		key := t.OperatorKey()
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			i = len(out)
			index[key] = i
			out = append(out, OperatorCount{Operator: key})
		}
		switch t.State {
		case domain.StateOpen:
			out[i].Open++
		case domain.StateClosed:
			out[i].Closed++
		}
	}
	return out
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
