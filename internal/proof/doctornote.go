package proof

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/sanitize"
)

const (
	fallbackDiagnosis = "Minor illness requiring rest; patient was advised to stay home."
	maxDiagnosisWords = 40

	doctorName = "Dr. John Smith"
	clinicName = "City Health Clinic"
)

const diagnosisPromptTemplate = `[INST] Generate a concise, realistic medical detail for a doctor's note supporting the scenario '%s'.
Keep it under 50 words, professional, and believable (e.g., minor illness or issue). Do not include the excuse itself. [/INST]`

// DoctorNoteRenderer writes a one-page US Letter PDF.
type DoctorNoteRenderer struct {
	dir      string
	provider Completer
	now      func() time.Time
	logger   *slog.Logger
}

func NewDoctorNoteRenderer(dir string, provider Completer) *DoctorNoteRenderer {
	return &DoctorNoteRenderer{
		dir:      dir,
		provider: provider,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

func (r *DoctorNoteRenderer) Render(ctx context.Context, req Request) (string, error) {
	scenario := req.scenario()
	diagnosis := r.diagnosis(ctx, scenario)

	data, err := r.layout(scenario, diagnosis)
	if err != nil {
		return "", err
	}

	path := newArtifactPath(r.dir, KindDoctorNote)
	if err := writeArtifact(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// diagnosis asks the provider for a short medical justification. Provider
// failures fall back to a stock phrase so the note is always produced.
func (r *DoctorNoteRenderer) diagnosis(ctx context.Context, scenario string) string {
	if r.provider == nil {
		return fallbackDiagnosis
	}
	text, err := r.provider.Complete(ctx, fmt.Sprintf(diagnosisPromptTemplate, scenario))
	if err != nil {
		r.logger.Warn("doctor note diagnosis unavailable, using fallback", "scenario", scenario, "error", err)
		return fallbackDiagnosis
	}
	text = sanitize.Clean(text)
	if text == "" {
		return fallbackDiagnosis
	}
	return truncateWords(text, maxDiagnosisWords)
}

func (r *DoctorNoteRenderer) layout(scenario, diagnosis string) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle("Doctor's Note", true)
	pdf.SetCreator(clinicName, true)
	pdf.SetMargins(72, 72, 72)
	pdf.SetAutoPageBreak(false, 72)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	width := pageW - left - right

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(width, 20, clinicName, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(width, 14, "450 Market Street, Suite 200 | (555) 010-4477", "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	y := pdf.GetY() + 6
	pdf.SetDrawColor(40, 90, 160)
	pdf.SetLineWidth(1.5)
	pdf.Line(left, y, left+width, y)
	pdf.SetY(y + 24)

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(width, 26, "Doctor's Note", "", 1, "L", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		"Date: " + r.now().Format(time.DateOnly),
		"Patient: Staff Member",
		"Reason: " + excuse.Title(scenario),
	} {
		pdf.CellFormat(width, 18, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(14)

	pdf.CellFormat(width, 18, "To Whom It May Concern,", "", 1, "L", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(width, 18, "Diagnosis", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.MultiCell(width, 16, tr(diagnosis), "", "L", false)
	pdf.Ln(10)
	pdf.MultiCell(width, 16, "Please excuse the patient from their obligations for the period stated above.", "", "L", false)
	pdf.Ln(28)

	pdf.CellFormat(width, 18, "Sincerely,", "", 1, "L", false, 0, "")
	pdf.Ln(20)
	pdf.SetFont("Helvetica", "I", 14)
	pdf.CellFormat(width, 18, doctorName, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(width, 16, clinicName, "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering doctor note: %w", err)
	}
	return buf.Bytes(), nil
}

// truncateWords keeps the first n words of s, marking a cut with "...".
func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
