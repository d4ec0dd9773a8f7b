// Package speech turns excuse text into MP3 audio through a
// Google-Translate-style text-to-speech endpoint.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/alibi/internal/apperr"
)

// DefaultEndpoint is the public TTS endpoint gTTS uses.
const DefaultEndpoint = "https://translate.google.com/translate_tts"

// maxChunk is the longest text, in characters, the endpoint accepts per call.
const maxChunk = 100

const maxAudioBytes = 10 << 20

type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Synthesize returns MP3 audio for text spoken in lang. Long text is split
// into word-bounded chunks whose audio is concatenated.
func (c *Client) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	chunks := splitChunks(text, maxChunk)
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "No excuse text provided.")
	}

	var out bytes.Buffer
	for i, chunk := range chunks {
		audio, err := c.fetch(ctx, chunk, lang, i, len(chunks))
		if err != nil {
			return nil, err
		}
		out.Write(audio)
	}
	c.logger.Debug("speech synthesized", "chunks", len(chunks), "bytes", out.Len(), "lang", lang)
	return out.Bytes(), nil
}

func (c *Client) fetch(ctx context.Context, chunk, lang string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("q", chunk)
	q.Set("tl", lang)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating tts request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; alibi)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindProviderUnavailable, "Speech service unavailable.")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindProviderUnavailable, "Speech service unavailable.")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindProviderUnavailable, "Speech service returned %d.", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, apperr.New(apperr.KindProviderMalformedResponse, "Speech service returned no audio.")
	}
	return body, nil
}

// splitChunks breaks text into pieces of at most n characters, splitting on
// spaces. Words longer than n are split mid-word.
func splitChunks(text string, n int) []string {
	var chunks []string
	current := ""
	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > n {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			r := []rune(word)
			chunks = append(chunks, string(r[:n]))
			word = string(r[n:])
		}
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= n:
			current += " " + word
		default:
			chunks = append(chunks, current)
			current = word
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
