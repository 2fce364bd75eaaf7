// Package i18n resolves language tags to human-readable names for prompt
// assembly. The chat pipeline instructs the model to answer in the
// configured language by name ("Japanese", "French"), never by tag.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DisplayName returns the English display name of a BCP 47 language tag:
// "ja" -> "Japanese", "fr" -> "French". Unparseable input is returned
// unchanged so a configured literal language name still reaches the prompt.
func DisplayName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(parsed); name != "" {
		return name
	}
	return tag
}

// IsEnglish reports whether the tag denotes English in any region
// ("en", "en-US", "en-GB"), or is the literal name "English".
func IsEnglish(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	if strings.EqualFold(tag, "en") || strings.EqualFold(tag, "english") {
		return true
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return false
	}
	base, _ := parsed.Base()
	englishBase, _ := language.English.Base()
	return base == englishBase
}
