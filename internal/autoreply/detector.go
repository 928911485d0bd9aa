// Package autoreply sends a seller's approved template in response to buyer
// messages that hit a trigger.
package autoreply

import (
	"regexp"
	"sort"
	"strings"

	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/moderation"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

type trigger struct {
	key     string
	phrases []string
}

// Detector scans for keyword triggers. Its vocabulary is independent of the
// moderation engine's banned terms.
type Detector struct {
	triggers []trigger
}

// NewDetector builds a detector from trigger key to phrases. Keys are
// evaluated in lexical order so detection is deterministic.
func NewDetector(vocabulary map[string][]string) *Detector {
	keys := make([]string, 0, len(vocabulary))
	for k := range vocabulary {
		if k != "" && k != domain.TriggerFirstMessage {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	d := &Detector{}
	for _, k := range keys {
		t := trigger{key: k}
		for _, p := range vocabulary[k] {
			if p = tokens(p); p != "" {
				t.phrases = append(t.phrases, p)
			}
		}
		if len(t.phrases) > 0 {
			d.triggers = append(d.triggers, t)
		}
	}
	return d
}

// tokens normalizes s to space-separated words.
func tokens(s string) string {
	return strings.TrimSpace(nonWord.ReplaceAllString(moderation.Normalize(s), " "))
}

// Detect returns the first keyword trigger whose phrase appears as whole words
// in text.
func (d *Detector) Detect(text string) (string, bool) {
	padded := " " + tokens(text) + " "
	if strings.TrimSpace(padded) == "" {
		return "", false
	}
	for _, t := range d.triggers {
		for _, p := range t.phrases {
			if strings.Contains(padded, " "+p+" ") {
				return t.key, true
			}
		}
	}
	return "", false
}

// Keys lists the configured keyword trigger keys.
func (d *Detector) Keys() []string {
	keys := make([]string, len(d.triggers))
	for i, t := range d.triggers {
		keys[i] = t.key
	}
	return keys
}

// ValidKey reports whether a template may use key.
func (d *Detector) ValidKey(key string) bool {
	if key == domain.TriggerFirstMessage {
		return true
	}
	for _, t := range d.triggers {
		if t.key == key {
			return true
		}
	}
	return false
}
