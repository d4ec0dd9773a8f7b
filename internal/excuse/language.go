package excuse

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/kalambet/alibi/internal/apperr"
)

var supportedLanguages = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Italian,
	language.Portuguese,
	language.Hindi,
	language.Japanese,
	language.Korean,
	language.Chinese,
	language.Russian,
	language.Arabic,
	language.Dutch,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// SupportedLanguages returns the BCP-47 codes excuses can be written in.
func SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	for i, t := range supportedLanguages {
		out[i] = t.String()
	}
	return out
}

// ResolveLanguage maps a BCP-47 code such as "es-MX" to the closest
// supported language. An empty code means English.
func ResolveLanguage(code string) (language.Tag, error) {
	if code == "" {
		return language.English, nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, apperr.Wrap(err, apperr.KindInvalidInput, "invalid language code %q", code)
	}
	_, idx, conf := languageMatcher.Match(tag)
	// The matcher falls back to English with High confidence for some
	// languages it knows nothing closer to, so the base must agree too.
	want, _ := tag.Base()
	got, _ := supportedLanguages[idx].Base()
	if conf == language.No || want != got {
		return language.Und, apperr.New(apperr.KindInvalidInput, "unsupported language %q", code)
	}
	return supportedLanguages[idx], nil
}

// LanguageName returns the English name of tag, e.g. "Spanish".
func LanguageName(tag language.Tag) string {
	return display.English.Languages().Name(tag)
}

// Title renders a scenario for display: "late for work" -> "Late For Work".
// Casers are stateful, so each call builds its own.
func Title(scenario string) string {
	return cases.Title(language.English).String(NormalizeScenario(scenario))
}
