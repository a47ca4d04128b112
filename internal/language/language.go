// Package language maps the human readable language labels participants pick
// to the canonical language codes used to decide whether a message needs
// translation.
package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	textlang "golang.org/x/text/language"
)

// ErrUnsupportedLanguage is returned when a label is not in the configured set.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Code is a canonical ISO 639 base language code such as "en" or "hi".
type Code string

func (c Code) String() string {
	return string(c)
}

// Language pairs a display label with its canonical code.
type Language struct {
	Label string `json:"label"`
	Code  Code   `json:"code"`
}

// DefaultLabels is the label table used when no configuration is supplied.
func DefaultLabels() map[string]string {
	return map[string]string{
		"English": "en",
		"Hindi":   "hi",
		"Spanish": "es",
	}
}

// Resolver is immutable once built and safe for concurrent use.
type Resolver struct {
	exact  map[string]Code
	folded map[string]Code
	codes  map[Code]string
}

// NewResolver builds a resolver from a label to code table. Every code must
// parse as a BCP 47 tag with a known base language; the base is what gets stored,
// so "en-US" and "EN" both canonicalize to "en".
func NewResolver(labels map[string]string) (*Resolver, error) {
	if len(labels) == 0 {
		return nil, errors.New("language table cannot be empty")
	}

	r := &Resolver{
		exact:  make(map[string]Code, len(labels)),
		folded: make(map[string]Code, len(labels)),
		codes:  make(map[Code]string, len(labels)),
	}

	for label, raw := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("empty label for code %q", raw)
		}

		code, err := canonicalize(raw)
		if err != nil {
			return nil, fmt.Errorf("label %q: %w", label, err)
		}

		key := fold(label)
		if prev, ok := r.folded[key]; ok && prev != code {
			return nil, fmt.Errorf("label %q maps to both %q and %q", label, prev, code)
		}

		r.exact[label] = code
		r.folded[key] = code
		if cur, ok := r.codes[code]; !ok || label < cur {
			r.codes[code] = label
		}
	}

	return r, nil
}

func canonicalize(raw string) (Code, error) {
	tag, err := textlang.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse language code %q: %w", raw, err)
	}
	if tag == textlang.Und {
		return "", fmt.Errorf("undetermined language code %q", raw)
	}

	base, _ := tag.Base()
	return Code(base.String()), nil
}

func fold(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Resolve returns the canonical code for a label. Exact matches win; otherwise
// the label is matched case-insensitively after trimming.
func (r *Resolver) Resolve(label string) (Code, error) {
	if code, ok := r.exact[label]; ok {
		return code, nil
	}
	if code, ok := r.folded[fold(label)]; ok {
		return code, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, label)
}

// Supported reports whether code belongs to the configured set.
func (r *Resolver) Supported(code Code) bool {
	_, ok := r.codes[code]
	return ok
}

// Label returns the display label for a code, or the code itself if unknown.
func (r *Resolver) Label(code Code) string {
	if label, ok := r.codes[code]; ok {
		return label
	}
	return string(code)
}

// Languages lists the supported languages ordered by label.
func (r *Resolver) Languages() []Language {
	langs := make([]Language, 0, len(r.exact))
	for label, code := range r.exact {
		langs = append(langs, Language{Label: label, Code: code})
	}

	sort.Slice(langs, func(i, j int) bool {
		return langs[i].Label < langs[j].Label
	})
	return langs
}
