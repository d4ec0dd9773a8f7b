package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/alibi/internal/apperr"
)

// Config wires the default renderers.
type Config struct {
	Dir       string
	FontPaths []string
	Provider  Completer
}

// Orchestrator dispatches proof requests to renderers and verifies what
// they wrote before handing out a reference.
type Orchestrator struct {
	dir       string
	renderers map[Kind]Renderer
	logger    *slog.Logger
}

// New builds an Orchestrator with the doctor-note, chat-screenshot and
// location-log renderers writing into cfg.Dir.
func New(cfg Config) *Orchestrator {
	return NewOrchestrator(cfg.Dir, map[Kind]Renderer{
		KindDoctorNote:     NewDoctorNoteRenderer(cfg.Dir, cfg.Provider),
		KindChatScreenshot: NewChatScreenshotRenderer(cfg.Dir, cfg.FontPaths),
		KindLocationLog:    NewLocationLogRenderer(cfg.Dir),
	})
}

func NewOrchestrator(dir string, renderers map[Kind]Renderer) *Orchestrator {
	return &Orchestrator{dir: dir, renderers: renderers, logger: slog.Default()}
}

// Dir returns the directory artifacts are written to.
func (o *Orchestrator) Dir() string {
	return o.dir
}

// Generate renders the requested artifact and confirms it is on disk with
// the expected content.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Artifact, error) {
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return Artifact{}, err
	}
	req.Kind = kind

	renderer, ok := o.renderers[kind]
	if !ok {
		return Artifact{}, apperr.New(apperr.KindUnsupportedProofKind, "Invalid proof type.")
	}
	if kind == KindChatScreenshot && strings.TrimSpace(req.ExcuseText) == "" {
		return Artifact{}, apperr.New(apperr.KindInvalidInput, "Excuse text is required for a chat screenshot.")
	}

	path, err := renderer.Render(ctx, req)
	if err != nil {
		if apperr.Is(err, apperr.KindInvalidInput) {
			return Artifact{}, err
		}
		o.logger.Error("proof render failed", "kind", kind, "excuse_id", req.ExcuseID, "error", err)
		return Artifact{}, apperr.Wrap(err, apperr.KindRenderFailure, "Failed to generate proof file.")
	}
	if path == "" {
		return Artifact{}, apperr.New(apperr.KindRenderFailure, "Failed to generate proof file.")
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		o.logger.Error("proof missing after render", "kind", kind, "path", path)
		return Artifact{}, apperr.Wrap(err, apperr.KindArtifactMissingAfterRender, "Proof file was not found after it was generated.")
	}
	if err != nil {
		return Artifact{}, apperr.Wrap(err, apperr.KindRenderFailure, "Failed to generate proof file.")
	}

	if err := verify(kind, path, info.Size()); err != nil {
		o.logger.Error("proof failed verification", "kind", kind, "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			o.logger.Warn("removing invalid proof failed", "path", path, "error", rmErr)
		}
		return Artifact{}, apperr.Wrap(err, apperr.KindRenderFailure, "Failed to generate proof file.")
	}

	name := filepath.Base(path)
	o.logger.Debug("proof generated", "kind", kind, "excuse_id", req.ExcuseID, "name", name, "bytes", info.Size())
	return Artifact{
		Name: name,
		Kind: kind,
		Path: path,
		Size: info.Size(),
		URL:  URLPrefix + name,
	}, nil
}

// verify checks that the file at path is a non-empty, well-formed artifact
// of the given kind.
func verify(kind Kind, path string, size int64) error {
	if size == 0 {
		return errors.New("artifact is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}

	switch kind {
	case KindDoctorNote:
		return verifyPDF(data)
	case KindChatScreenshot:
		_, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decoding image: %w", err)
		}
		if format != "png" {
			return fmt.Errorf("unexpected image format %q", format)
		}
		return nil
	case KindLocationLog:
		if !json.Valid(data) {
			return errors.New("location log is not valid JSON")
		}
		return nil
	}
	return fmt.Errorf("no verifier for %s", kind)
}

func verifyPDF(data []byte) (err error) {
	// The reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("parsing pdf: %w", err)
	}
	if r.NumPage() < 1 {
		return errors.New("pdf has no pages")
	}
	return nil
}
