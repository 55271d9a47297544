package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tareas/internal/domain"
	"tareas/internal/engine"
)

func sampleData() DashboardData {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(75 * time.Minute)
	op := &domain.Identity{ID: 4, Username: "jperez", FirstName: "Juan", LastName: "Pérez"}
	tasks := []domain.Task{
		{ID: 2, Description: "Revisión de bomba en planta de molienda con cambio de sellos", State: domain.StateOpen, StartedAt: start.Add(time.Hour), Operator: op},
		{ID: 1, Description: "Cambio de correa", State: domain.StateClosed, StartedAt: start, ClosedAt: &end, Operator: op},
	}
	return DashboardData{
		User:        domain.Identity{ID: 2, Username: "admin.sur", FirstName: "Ana", LastName: "Díaz"},
		Tasks:       tasks,
		Metrics:     engine.ComputeMetrics(tasks),
		Breakdown:   engine.OperatorBreakdown(tasks),
		GeneratedAt: time.Date(2024, 3, 2, 9, 15, 0, 0, time.UTC),
	}
}

func TestRenderProducesPDF(t *testing.T) {
	g := NewDashboardGenerator(t.TempDir(), "")
	g.Location = time.UTC
	var buf bytes.Buffer
	require.NoError(t, g.Render(&buf, sampleData()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Equal(t, "Resumen de tareas", g.Title)
}

func TestRenderEmpty(t *testing.T) {
	g := NewDashboardGenerator(t.TempDir(), "Sin datos")
	var buf bytes.Buffer
	require.NoError(t, g.Render(&buf, DashboardData{User: domain.Identity{Username: "root"}}))
	assert.NotZero(t, buf.Len())
}

func TestGenerateWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reportes")
	g := NewDashboardGenerator(dir, "Faena Rajo Norte")

	path, err := g.Generate(sampleData())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tareas_20240302_0915.pdf"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	data := sampleData()
	data.Filename = "../fuera.pdf"
	path, err = g.Generate(data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fuera.pdf"), path)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "corta", truncate("corta", 10))
	got := truncate("Inspección de grúa horquilla", 12)
	assert.Equal(t, "Inspecció...", got)
	assert.True(t, strings.HasSuffix(got, "..."))
}
