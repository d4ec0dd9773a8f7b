package proof

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/excuse"
)

const (
	chatWidth      = 600
	chatHeight     = 400
	chatMargin     = 30
	headerHeight   = 56
	bubblePadX     = 14
	bubblePadY     = 10
	bubbleGap      = 16
	bubbleRadius   = 12
	lineSpacing    = 5
	chatFontSize   = 18
	bubbleMaxWidth = chatWidth * 7 / 10

	closingLine   = "No worries, take care!"
	genericOpener = "Hey, what happened?"
)

var openers = map[string]string{
	excuse.ScenarioLateForWork:       "Hey, are you coming in today? The meeting started 20 minutes ago.",
	excuse.ScenarioMissedClass:       "You weren't in class today. Everything okay?",
	excuse.ScenarioForgotAnniversary: "Do you know what day it is today?",
	excuse.ScenarioMissedDeadline:    "The report was due this morning. Where is it?",
	excuse.ScenarioDidntTextBack:     "I've been texting you all day. Is everything alright?",
}

var (
	background   = color.RGBA{0xff, 0xff, 0xff, 0xff}
	headerFill   = color.RGBA{0xf2, 0xf2, 0xf7, 0xff}
	headerText   = color.RGBA{0x1c, 0x1c, 0x1e, 0xff}
	theirFill    = color.RGBA{0xe5, 0xe5, 0xea, 0xff}
	theirText    = color.RGBA{0x00, 0x00, 0x00, 0xff}
	ownFill      = color.RGBA{0x00, 0x7a, 0xff, 0xff}
	ownText      = color.RGBA{0xff, 0xff, 0xff, 0xff}
	dividerColor = color.RGBA{0xd1, 0xd1, 0xd6, 0xff}
)

type message struct {
	text string
	own  bool
}

type bubble struct {
	lines []string
	rect  image.Rectangle
	own   bool
}

// ChatScreenshotRenderer draws a three-message conversation as a PNG.
type ChatScreenshotRenderer struct {
	dir    string
	fonts  *fontChain
	logger *slog.Logger
}

func NewChatScreenshotRenderer(dir string, fontPaths []string) *ChatScreenshotRenderer {
	logger := slog.Default()
	return &ChatScreenshotRenderer{
		dir:    dir,
		fonts:  newFontChain(fontPaths, chatFontSize, logger),
		logger: logger,
	}
}

func (r *ChatScreenshotRenderer) Render(_ context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.ExcuseText) == "" {
		return "", apperr.New(apperr.KindInvalidInput, "Excuse text is required for a chat screenshot.")
	}

	face, _ := r.fonts.Face()
	defer face.Close()

	img := drawConversation(face, conversation(req.scenario(), req.ExcuseText))

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding chat screenshot: %w", err)
	}
	path := newArtifactPath(r.dir, KindChatScreenshot)
	if err := writeArtifact(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

func conversation(scenario, excuseText string) []message {
	opener, ok := openers[excuse.NormalizeScenario(scenario)]
	if !ok {
		opener = genericOpener
	}
	return []message{
		{text: opener},
		{text: strings.TrimSpace(excuseText), own: true},
		{text: closingLine},
	}
}

// drawConversation lays the messages out on a 600x400 canvas and moves the
// drawing onto a taller canvas when the bubbles do not fit.
func drawConversation(face font.Face, msgs []message) *image.RGBA {
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil() + lineSpacing
	ascent := metrics.Ascent.Ceil()

	img := image.NewRGBA(image.Rect(0, 0, chatWidth, chatHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	drawHeader(img, face, ascent)

	bubbles, bottom := layoutBubbles(face, msgs, lineHeight)
	if need := bottom + chatMargin; need > img.Bounds().Dy() {
		img = grow(img, need)
	}

	for _, b := range bubbles {
		fill, ink := theirFill, theirText
		if b.own {
			fill, ink = ownFill, ownText
		}
		fillRoundedRect(img, b.rect, bubbleRadius, fill)
		for i, line := range b.lines {
			y := b.rect.Min.Y + bubblePadY + ascent + i*lineHeight
			drawText(img, face, line, b.rect.Min.X+bubblePadX, y, ink)
		}
	}
	return img
}

func drawHeader(img *image.RGBA, face font.Face, ascent int) {
	header := image.Rect(0, 0, chatWidth, headerHeight)
	draw.Draw(img, header, image.NewUniform(headerFill), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, headerHeight-1, chatWidth, headerHeight), image.NewUniform(dividerColor), image.Point{}, draw.Src)

	title := "Friend"
	x := (chatWidth - measure(face, title)) / 2
	y := (headerHeight-face.Metrics().Height.Ceil())/2 + ascent
	drawText(img, face, title, x, y, headerText)
}

// layoutBubbles positions each message and returns the bubbles plus the
// lowest y coordinate used.
func layoutBubbles(face font.Face, msgs []message, lineHeight int) ([]bubble, int) {
	maxText := bubbleMaxWidth - 2*bubblePadX
	y := headerHeight + bubbleGap

	out := make([]bubble, 0, len(msgs))
	for _, m := range msgs {
		lines := wrapText(face, m.text, maxText)
		w := 0
		for _, l := range lines {
			w = max(w, measure(face, l))
		}
		bw := min(w+2*bubblePadX, chatWidth-2*chatMargin)
		bh := len(lines)*lineHeight + 2*bubblePadY - lineSpacing

		x := chatMargin
		if m.own {
			x = chatWidth - chatMargin - bw
		}
		out = append(out, bubble{
			lines: lines,
			rect:  image.Rect(x, y, x+bw, y+bh),
			own:   m.own,
		})
		y += bh + bubbleGap
	}
	return out, y - bubbleGap
}

// grow copies img onto a taller canvas.
func grow(img *image.RGBA, height int) *image.RGBA {
	taller := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), height))
	draw.Draw(taller, taller.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	draw.Draw(taller, img.Bounds(), img, image.Point{}, draw.Src)
	return taller
}

// wrapText greedily packs words onto lines no wider than maxWidth pixels.
// A word that is wider than maxWidth on its own gets a line to itself.
func wrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := ""
	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if measure(face, candidate) <= maxWidth {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = w
	}
	return append(lines, current)
}

func measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

func drawText(img draw.Image, face font.Face, s string, x, baseline int, c color.Color) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func fillRoundedRect(img *image.RGBA, r image.Rectangle, radius int, c color.RGBA) {
	radius = min(radius, r.Dx()/2, r.Dy()/2)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if outsideCorner(x-r.Min.X, y-r.Min.Y, r.Dx(), r.Dy(), radius) {
				continue
			}
			img.SetRGBA(x, y, c)
		}
	}
}

// outsideCorner reports whether the local point (x, y) falls in a cut-away
// corner of a w by h rectangle with the given corner radius.
func outsideCorner(x, y, w, h, radius int) bool {
	var cx, cy int
	switch {
	case x < radius && y < radius:
		cx, cy = radius, radius
	case x >= w-radius && y < radius:
		cx, cy = w-radius-1, radius
	case x < radius && y >= h-radius:
		cx, cy = radius, h-radius-1
	case x >= w-radius && y >= h-radius:
		cx, cy = w-radius-1, h-radius-1
	default:
		return false
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy > radius*radius
}
