// Package proof renders synthetic artifacts that back up an excuse: a
// doctor's note PDF, a chat screenshot PNG and a location log JSON.
package proof

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/fsx"
)

// Kind names a proof artifact type as it appears on the wire.
type Kind string

const (
	KindDoctorNote     Kind = "doctor_note"
	KindChatScreenshot Kind = "chat_screenshot"
	KindLocationLog    Kind = "location_log"
)

// URLPrefix is the path artifacts are served under.
const URLPrefix = "/proofs/"

const defaultScenario = "generic situation"

var kinds = []Kind{KindDoctorNote, KindChatScreenshot, KindLocationLog}

// Kinds returns the supported proof kinds.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// ParseKind validates a wire value.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	for _, v := range kinds {
		if v == k {
			return k, nil
		}
	}
	return "", apperr.New(apperr.KindUnsupportedProofKind, "Invalid proof type.")
}

// Ext returns the file extension artifacts of this kind use.
func (k Kind) Ext() string {
	switch k {
	case KindDoctorNote:
		return ".pdf"
	case KindChatScreenshot:
		return ".png"
	case KindLocationLog:
		return ".json"
	}
	return ""
}

// ContentType returns the MIME type artifacts of this kind are served with.
func (k Kind) ContentType() string {
	switch k {
	case KindDoctorNote:
		return "application/pdf"
	case KindChatScreenshot:
		return "image/png"
	case KindLocationLog:
		return "application/json"
	}
	return "application/octet-stream"
}

// Request asks for one artifact.
type Request struct {
	ExcuseID   string
	Kind       Kind
	ExcuseText string
	Scenario   string
}

func (r Request) scenario() string {
	if s := strings.TrimSpace(r.Scenario); s != "" {
		return s
	}
	return defaultScenario
}

// Artifact describes a rendered, verified file.
type Artifact struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Path string `json:"-"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Renderer writes one artifact file and returns its path.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
}

// Completer produces sanitized text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// newArtifactPath returns "<dir>/<kind>_<uuid><ext>". Random names keep
// concurrent renders for the same excuse from overwriting each other.
func newArtifactPath(dir string, kind Kind) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", kind, uuid.New().String(), kind.Ext()))
}

func writeArtifact(path string, data []byte) error {
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
