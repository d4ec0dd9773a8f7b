package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/alibi/internal/apperr"
)

type stubCompleter struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.text, s.err
}

var noFonts = []string{"/nonexistent/alibi-test-font.ttf"}

func newTestOrchestrator(t *testing.T, provider Completer) *Orchestrator {
	t.Helper()
	return New(Config{Dir: t.TempDir(), FontPaths: noFonts, Provider: provider})
}

func readPDF(t *testing.T, path string) *pdf.Reader {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("missing PDF magic header: %q", data[:min(len(data), 8)])
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("pdf.NewReader: %v", err)
	}
	return r
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	_, err := ParseKind("bogus")
	if !apperr.Is(err, apperr.KindUnsupportedProofKind) {
		t.Fatalf("err = %v, want unsupported_proof_kind", err)
	}
	if !strings.Contains(apperr.MessageOf(err), "Invalid proof type") {
		t.Errorf("message = %q", apperr.MessageOf(err))
	}
}

func TestGenerateDoctorNote(t *testing.T) {
	provider := &stubCompleter{text: "Acute gastroenteritis; rest and fluids advised for 24 hours."}
	o := newTestOrchestrator(t, provider)

	a, err := o.Generate(context.Background(), Request{ExcuseID: "ex1", Kind: KindDoctorNote, Scenario: "late for work"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasSuffix(a.Name, ".pdf") || !strings.HasPrefix(a.Name, "doctor_note_") {
		t.Errorf("Name = %q", a.Name)
	}
	if a.URL != "/proofs/"+a.Name {
		t.Errorf("URL = %q", a.URL)
	}
	if a.Size == 0 {
		t.Error("Size = 0")
	}
	if r := readPDF(t, a.Path); r.NumPage() != 1 {
		t.Errorf("NumPage = %d, want 1", r.NumPage())
	}
	if len(provider.prompts) != 1 || !strings.Contains(provider.prompts[0], "late for work") {
		t.Errorf("prompts = %v", provider.prompts)
	}
}

func TestDoctorNoteFallsBackWhenProviderFails(t *testing.T) {
	provider := &stubCompleter{err: apperr.New(apperr.KindProviderUnavailable, "down")}
	o := newTestOrchestrator(t, provider)

	a, err := o.Generate(context.Background(), Request{Kind: KindDoctorNote, Scenario: "missed class"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	readPDF(t, a.Path)
}

func TestDoctorNoteDiagnosis(t *testing.T) {
	long := strings.Repeat("word ", 60)
	tests := []struct {
		name     string
		provider *stubCompleter
		want     string
	}{
		{"provider error", &stubCompleter{err: errors.New("boom")}, fallbackDiagnosis},
		{"empty after cleaning", &stubCompleter{text: "Translation:"}, fallbackDiagnosis},
		{"sanitized", &stubCompleter{text: `"Diagnosis: mild flu." Spanish: gripe`}, "Diagnosis: mild flu."},
		{"truncated", &stubCompleter{text: long}, strings.TrimSpace(strings.Repeat("word ", 40)) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewDoctorNoteRenderer(t.TempDir(), tt.provider)
			if got := r.diagnosis(context.Background(), "missed class"); got != tt.want {
				t.Errorf("diagnosis = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateWords(t *testing.T) {
	if got := truncateWords("one two  three", 5); got != "one two three" {
		t.Errorf("short = %q", got)
	}
	if got := truncateWords("a b c d", 2); got != "a b..." {
		t.Errorf("long = %q", got)
	}
}

func TestGenerateChatScreenshot(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	a, err := o.Generate(context.Background(), Request{Kind: KindChatScreenshot, ExcuseText: "My bus broke down.", Scenario: "late for work"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	f, err := os.Open(a.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if format != "png" || cfg.Width != chatWidth || cfg.Height != chatHeight {
		t.Errorf("got %s %dx%d, want png %dx%d", format, cfg.Width, cfg.Height, chatWidth, chatHeight)
	}
}

func TestChatScreenshotGrowsForLongText(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	long := strings.Repeat("The printer jammed and then the fire alarm went off. ", 20)

	a, err := o.Generate(context.Background(), Request{Kind: KindChatScreenshot, ExcuseText: long, Scenario: "missed deadline"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	f, err := os.Open(a.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Height <= chatHeight {
		t.Errorf("Height = %d, want > %d", cfg.Height, chatHeight)
	}
}

func TestChatScreenshotRequiresText(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	_, err := o.Generate(context.Background(), Request{Kind: KindChatScreenshot, ExcuseText: "  "})
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
	if names := dirEntries(t, o.Dir()); len(names) != 0 {
		t.Errorf("files written: %v", names)
	}
}

func TestConversationOpeners(t *testing.T) {
	msgs := conversation("late_for_work", "excuse")
	if msgs[0].text != openers["late for work"] || msgs[0].own {
		t.Errorf("opener = %+v", msgs[0])
	}
	if !msgs[1].own || msgs[1].text != "excuse" {
		t.Errorf("reply = %+v", msgs[1])
	}
	if msgs[2].text != closingLine {
		t.Errorf("closing = %+v", msgs[2])
	}
	if got := conversation("stuck in an elevator", "x")[0].text; got != genericOpener {
		t.Errorf("unknown scenario opener = %q", got)
	}
}

func TestWrapText(t *testing.T) {
	face := basicfont.Face7x13 // 7px per glyph
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "", 50, []string{""}},
		{"fits", "aaa bbb", 49, []string{"aaa bbb"}},
		{"wraps", "aaa bbb ccc", 50, []string{"aaa bbb", "ccc"}},
		{"long word alone", "x supercalifragilistic y", 50, []string{"x", "supercalifragilistic", "y"}},
		{"leading long word", "supercalifragilistic y", 50, []string{"supercalifragilistic", "y"}},
		{"collapses spaces", "a   b", 50, []string{"a b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(face, tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrapText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFontChainFallsBackToBuiltin(t *testing.T) {
	c := newFontChain(noFonts, chatFontSize, discardLogger())
	face, source := c.Face()
	defer face.Close()
	if source != "basicfont" {
		t.Errorf("source = %q, want basicfont", source)
	}
}

func TestFontChainSkipsUnparseable(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.ttf")
	if err := os.WriteFile(bad, []byte("not a font"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newFontChain([]string{bad}, chatFontSize, discardLogger())
	if _, source := c.Face(); source != "basicfont" {
		t.Errorf("source = %q, want basicfont", source)
	}
}

func TestGenerateLocationLog(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	a, err := o.Generate(context.Background(), Request{ExcuseID: "ex9", Kind: KindLocationLog, Scenario: "didn't text back"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		t.Fatal(err)
	}
	var log LocationLog
	if err := json.Unmarshal(data, &log); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if log.Event != "no_signal_zone" || log.Source != "gps" || log.ExcuseID != "ex9" {
		t.Errorf("log = %+v", log)
	}
	if d := log.Latitude - baseLatitude; d < -maxOffsetDeg || d > maxOffsetDeg {
		t.Errorf("latitude %v too far from base", log.Latitude)
	}
	if d := log.Longitude - baseLongitude; d < -maxOffsetDeg || d > maxOffsetDeg {
		t.Errorf("longitude %v too far from base", log.Longitude)
	}
	if log.AccuracyM < minAccuracyM || log.AccuracyM > maxAccuracyM {
		t.Errorf("accuracy %v out of range", log.AccuracyM)
	}
	if _, err := time.Parse(time.RFC3339, log.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", log.Timestamp, err)
	}
}

func TestLocationLogDeterministic(t *testing.T) {
	r := NewLocationLogRenderer(t.TempDir())
	r.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	r.random = func() float64 { return 1 }

	log := r.build(Request{Scenario: "bored"})
	if log.Latitude != round(baseLatitude+maxOffsetDeg, 6) {
		t.Errorf("Latitude = %v", log.Latitude)
	}
	if log.AccuracyM != maxAccuracyM {
		t.Errorf("AccuracyM = %v", log.AccuracyM)
	}
	if log.Event != defaultEvent {
		t.Errorf("Event = %q, want %q", log.Event, defaultEvent)
	}
	if log.Timestamp != "2026-02-03T04:05:06Z" {
		t.Errorf("Timestamp = %q", log.Timestamp)
	}
	if log.Place != "Related to Bored" {
		t.Errorf("Place = %q", log.Place)
	}
}

func TestUnsupportedKindWritesNothing(t *testing.T) {
	o := newTestOrchestrator(t, &stubCompleter{text: "x"})
	for _, k := range []Kind{"bogus", "", "DOCTOR_NOTE", "pdf", "../doctor_note"} {
		_, err := o.Generate(context.Background(), Request{Kind: k, ExcuseText: "x", Scenario: "missed class"})
		if !apperr.Is(err, apperr.KindUnsupportedProofKind) {
			t.Errorf("kind %q: err = %v, want unsupported_proof_kind", k, err)
		}
	}
	if names := dirEntries(t, o.Dir()); len(names) != 0 {
		t.Errorf("files written: %v", names)
	}
}

type fakeRenderer struct {
	path string
	data []byte
	err  error
}

func (f fakeRenderer) Render(context.Context, Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.data != nil {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return "", err
		}
	}
	return f.path, nil
}

func TestRendererErrorIsRenderFailure(t *testing.T) {
	o := NewOrchestrator(t.TempDir(), map[Kind]Renderer{KindLocationLog: fakeRenderer{err: errors.New("disk full")}})
	_, err := o.Generate(context.Background(), Request{Kind: KindLocationLog})
	if !apperr.Is(err, apperr.KindRenderFailure) {
		t.Fatalf("err = %v, want render_failure", err)
	}
}

func TestRendererEmptyPathIsRenderFailure(t *testing.T) {
	o := NewOrchestrator(t.TempDir(), map[Kind]Renderer{KindLocationLog: fakeRenderer{}})
	_, err := o.Generate(context.Background(), Request{Kind: KindLocationLog})
	if !apperr.Is(err, apperr.KindRenderFailure) {
		t.Fatalf("err = %v, want render_failure", err)
	}
}

func TestMissingAfterRender(t *testing.T) {
	dir := t.TempDir()
	o := NewOrchestrator(dir, map[Kind]Renderer{KindDoctorNote: fakeRenderer{path: filepath.Join(dir, "ghost.pdf")}})
	_, err := o.Generate(context.Background(), Request{Kind: KindDoctorNote})
	if !apperr.Is(err, apperr.KindArtifactMissingAfterRender) {
		t.Fatalf("err = %v, want artifact_missing_after_render", err)
	}
}

func TestInvalidContentIsRemoved(t *testing.T) {
	tests := []struct {
		kind Kind
		data []byte
	}{
		{KindDoctorNote, []byte("definitely not a pdf")},
		{KindChatScreenshot, []byte("GIF89a")},
		{KindLocationLog, []byte("{broken")},
		{KindLocationLog, []byte{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "artifact"+tt.kind.Ext())
			o := NewOrchestrator(dir, map[Kind]Renderer{tt.kind: fakeRenderer{path: path, data: tt.data}})
			_, err := o.Generate(context.Background(), Request{Kind: tt.kind, ExcuseText: "x"})
			if !apperr.Is(err, apperr.KindRenderFailure) {
				t.Fatalf("err = %v, want render_failure", err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("invalid artifact left on disk")
			}
		})
	}
}

func TestConcurrentGenerateDistinctFiles(t *testing.T) {
	o := newTestOrchestrator(t, &stubCompleter{text: "Seasonal allergies."})

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			req := Request{ExcuseID: "same", Kind: kind, ExcuseText: "Same excuse.", Scenario: "missed class"}
			var (
				g    errgroup.Group
				a, b Artifact
			)
			g.Go(func() (err error) { a, err = o.Generate(context.Background(), req); return err })
			g.Go(func() (err error) { b, err = o.Generate(context.Background(), req); return err })
			if err := g.Wait(); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if a.Name == b.Name {
				t.Fatalf("both calls produced %s", a.Name)
			}
			for _, art := range []Artifact{a, b} {
				info, err := os.Stat(art.Path)
				if err != nil {
					t.Fatalf("stat %s: %v", art.Name, err)
				}
				if info.Size() == 0 {
					t.Errorf("%s is empty", art.Name)
				}
			}
		})
	}
}
