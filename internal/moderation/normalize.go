package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds text for matching: compatibility decomposition, combining
// marks stripped, lower-cased, recomposed. Fullwidth digits and accented
// letters collapse to their ASCII forms. A transformer chain is built per call
// because transform.Chain is not safe for concurrent use.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(unicode.ToLower),
		norm.NFKC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
