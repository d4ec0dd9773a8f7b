package speech

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/excuse"
	"github.com/kalambet/alibi/internal/fsx"
)

// URLPrefix is the path audio files are served under.
const URLPrefix = "/audio/"

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Synthesizer produces audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Audio describes a saved audio file.
type Audio struct {
	Name string `json:"name"`
	Path string `json:"-"`
	URL  string `json:"audio_url"`
}

// Service saves synthesized excuses as MP3 files.
type Service struct {
	synth  Synthesizer
	dir    string
	logger *slog.Logger
}

func NewService(synth Synthesizer, dir string) *Service {
	return &Service{synth: synth, dir: dir, logger: slog.Default()}
}

// Dir returns the directory audio files are written to.
func (s *Service) Dir() string {
	return s.dir
}

// Speak synthesizes text and writes excuse_<id>_<uuid>.mp3.
func (s *Service) Speak(ctx context.Context, excuseID, text, lang string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, apperr.New(apperr.KindInvalidInput, "No excuse text provided.")
	}
	tag, err := excuse.ResolveLanguage(strings.TrimSpace(lang))
	if err != nil {
		return Audio{}, err
	}
	base, _ := tag.Base()

	audio, err := s.synth.Synthesize(ctx, text, base.String())
	if err != nil {
		return Audio{}, fmt.Errorf("synthesizing speech: %w", err)
	}

	id := unsafeIDChars.ReplaceAllString(excuseID, "")
	if id == "" {
		id = "adhoc"
	}
	name := fmt.Sprintf("excuse_%s_%s.mp3", id, uuid.New().String())
	path := filepath.Join(s.dir, name)
	if err := fsx.WriteFileAtomic(path, audio, 0o644); err != nil {
		return Audio{}, apperr.Wrap(err, apperr.KindInternal, "Failed to save audio file.")
	}

	s.logger.Debug("audio saved", "excuse_id", excuseID, "name", name, "bytes", len(audio))
	return Audio{Name: name, Path: path, URL: URLPrefix + name}, nil
}
