// Package report renders the task dashboard as a PDF.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/jung-kurt/gofpdf"

	"tareas/internal/domain"
	"tareas/internal/engine"
)

// Generator is implemented by DashboardGenerator; handy to fake in callers.
type Generator interface {
	Render(w io.Writer, data DashboardData) error
	Generate(data DashboardData) (string, error)
}

// DashboardData is what the report shows. Metrics and Breakdown are
// computed over Tasks by the caller.
type DashboardData struct {
	User        domain.Identity
	Tasks       []domain.Task
	Metrics     engine.Metrics
	Breakdown   []engine.OperatorCount
	GeneratedAt time.Time
	Filename    string
}

type DashboardGenerator struct {
	OutputDir string
	Title     string
	Location  *time.Location

	font string
}

func NewDashboardGenerator(outputDir, title string) *DashboardGenerator {
	if title == "" {
		title = "Resumen de tareas"
	}
	return &DashboardGenerator{
		OutputDir: filepath.Clean(outputDir),
		Title:     title,
		Location:  time.Local,
		font:      "Helvetica",
	}
}

// Generate writes the report into OutputDir and returns its path.
func (g *DashboardGenerator) Generate(data DashboardData) (string, error) {
	filename := data.Filename
	if filename == "" {
		filename = fmt.Sprintf("tareas_%s.pdf", data.GeneratedAt.Format("20060102_1504"))
	}
	if err := os.MkdirAll(g.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(g.OutputDir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := g.Render(f, data); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

func (g *DashboardGenerator) Render(w io.Writer, data DashboardData) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	// core fonts are cp1252; accents in names and descriptions need translating
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(g.Title, true)
	pdf.SetAuthor("tareas", false)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(g.font, "", 9)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Página %d/{nb}", pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont(g.font, "B", 18)
	pdf.CellFormat(0, 10, tr(g.Title), "", 1, "C", false, 0, "")
	pdf.SetFont(g.font, "", 11)
	sub := fmt.Sprintf("Bienvenido, %s (%s) - %s", data.User.DisplayName(), data.User.Username, g.stamp(data.GeneratedAt))
	pdf.CellFormat(0, 7, tr(sub), "", 1, "C", false, 0, "")
	g.hr(pdf)

	g.sectionTitle(pdf, tr("Resumen"))
	g.kvLine(pdf, tr("Total"), strconv.Itoa(data.Metrics.Total))
	g.kvLine(pdf, tr("Iniciadas"), strconv.Itoa(data.Metrics.Open))
	g.kvLine(pdf, tr("Finalizadas"), strconv.Itoa(data.Metrics.Closed))
	g.kvLine(pdf, tr("Duración promedio"), tr(data.Metrics.AvgLabel()))
	pdf.Ln(2)
	g.hr(pdf)

	g.sectionTitle(pdf, tr("Tareas por operador"))
	if len(data.Breakdown) == 0 {
		g.note(pdf, tr("Sin tareas asignadas."))
	} else {
		widths := []float64{90, 45, 45}
		g.row(pdf, widths, true, "Operador", "Iniciadas", "Finalizadas")
		for _, b := range data.Breakdown {
			g.row(pdf, widths, false, tr(b.Operator), strconv.Itoa(b.Open), strconv.Itoa(b.Closed))
		}
	}
	pdf.Ln(3)
	g.hr(pdf)

	g.sectionTitle(pdf, tr("Tareas"))
	if len(data.Tasks) == 0 {
		g.note(pdf, tr("No hay tareas para mostrar."))
	} else {
		widths := []float64{12, 68, 26, 28, 28, 18}
		g.row(pdf, widths, true, "ID", tr("Descripción"), "Estado", "Operador", "Inicio", tr("Duración"))
		for _, t := range data.Tasks {
			op := "-"
			if t.Operator != nil {
				op = t.Operator.DisplayName()
			}
			g.row(pdf, widths, false,
				strconv.Itoa(t.ID),
				tr(truncate(t.Description, 42)),
				string(t.State),
				tr(truncate(op, 16)),
				g.stamp(t.StartedAt),
				engine.DurationLabel(t),
			)
		}
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}

func (g *DashboardGenerator) stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	loc := g.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("02/01/2006 15:04")
}

func (g *DashboardGenerator) sectionTitle(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(g.font, "B", 12)
	pdf.CellFormat(0, 7, s, "", 1, "L", false, 0, "")
	pdf.SetFont(g.font, "", 10)
}

func (g *DashboardGenerator) kvLine(pdf *gofpdf.Fpdf, key, val string) {
	pdf.SetFont(g.font, "B", 10)
	pdf.CellFormat(50, 6, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(g.font, "", 10)
	pdf.CellFormat(0, 6, val, "", 1, "L", false, 0, "")
}

func (g *DashboardGenerator) note(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(g.font, "I", 10)
	pdf.MultiCell(0, 6, s, "", "L", false)
	pdf.SetFont(g.font, "", 10)
}

func (g *DashboardGenerator) row(pdf *gofpdf.Fpdf, widths []float64, header bool, cells ...string) {
	style := ""
	if header {
		style = "B"
		pdf.SetFillColor(230, 230, 230)
	}
	pdf.SetFont(g.font, style, 9)
	for i, c := range cells {
		ln := 0
		if i == len(cells)-1 {
			ln = 1
		}
		pdf.CellFormat(widths[i], 6, c, "1", ln, "L", header, 0, "")
	}
}

func (g *DashboardGenerator) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(15, y, 195, y)
	pdf.SetY(y + 2)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
