package moderation

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultBannedTerms is the built-in policy vocabulary.
var DefaultBannedTerms = []string{
	"counterfeit",
	"replica",
	"fake id",
	"stolen goods",
	"cocaine",
	"heroin",
	"unregistered firearm",
	"escort service",
}

// LoadWordlist reads a TOML file of the form `terms = ["...", ...]`.
func LoadWordlist(path string) ([]string, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load wordlist %s: %w", path, err)
	}
	return k.Strings("terms"), nil
}

// MergeTerms normalizes and de-duplicates term lists, dropping blanks.
func MergeTerms(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, term := range list {
			n := strings.TrimSpace(Normalize(term))
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
