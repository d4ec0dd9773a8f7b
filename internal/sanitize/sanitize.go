// Package sanitize strips instruction-model artifacts from generated text.
package sanitize

import (
	"regexp"
	"sort"
	"strings"
)

const instructionClose = "[/INST]"

// Characters trimmed from both ends of the text.
const cutset = " \t\r\n\"'`“”‘’"

var languageNames = []string{
	"english", "spanish", "french", "german", "italian", "portuguese",
	"hindi", "chinese", "mandarin", "japanese", "korean", "russian",
	"arabic", "dutch", "turkish", "bengali", "urdu", "tamil", "telugu",
	"marathi", "polish", "swedish", "greek", "hebrew", "indonesian",
	"vietnamese", "thai",
}

var boilerplate = []string{
	"sure, here's an excuse:",
	"sure! here's an excuse:",
	"sure, here is an excuse:",
	"here's an excuse:",
	"here is an excuse:",
	"here's a believable excuse:",
	"here is a believable excuse:",
	"here's your excuse:",
	"here is your excuse:",
	"excuse:",
	"translated excuse:",
	"translation:",
	"response:",
	"answer:",
}

// prefixes is sorted longest first so the most specific header wins.
var prefixes = buildPrefixes()

// markerPattern finds label markers that signal the model moved on to a
// translation or a new instruction block.
var markerPattern = regexp.MustCompile(`(?i)\[/?INST\]|\b(?:` + strings.Join(languageNames, "|") + `|translation)\s*:`)

func buildPrefixes() []string {
	var out []string
	for _, p := range boilerplate {
		out = append(out, p)
		if strings.Contains(p, "'") {
			out = append(out, strings.ReplaceAll(p, "'", "’"))
		}
	}
	for _, name := range languageNames {
		out = append(out, name+":")
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// Prefixes returns the leading headers Clean removes.
func Prefixes() []string {
	return append([]string(nil), prefixes...)
}

// Clean turns raw generated text into a bare excuse:
//
//  1. keep only what follows the first "[/INST]";
//  2. trim whitespace and quotes;
//  3. drop at most one known header such as "Here's an excuse:" or
//     "Spanish:" (a second stacked header leaves nothing usable);
//  4. cut everything from the first remaining language label or
//     instruction tag.
//
// Clean is idempotent.
func Clean(raw string) string {
	s := raw
	if i := strings.Index(s, instructionClose); i >= 0 {
		s = s[i+len(instructionClose):]
	}
	s = trim(s)

	if n := prefixLen(s); n > 0 {
		s = trim(s[n:])
		if prefixLen(s) > 0 {
			return ""
		}
	}

	if loc := markerPattern.FindStringIndex(s); loc != nil {
		s = trim(s[:loc[0]])
	}
	return s
}

func trim(s string) string {
	return strings.Trim(s, cutset)
}

// prefixLen returns the byte length of the header s starts with, or 0.
func prefixLen(s string) int {
	for _, p := range prefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			return len(p)
		}
	}
	return 0
}
