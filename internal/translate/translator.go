// Package translate wraps the external machine translation capability behind
// a gateway that never fails message delivery.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-polyglot/internal/language"
)

// ErrTranslationUnavailable is reported when a language pair has no backing
// translator or the backend call failed.
var ErrTranslationUnavailable = errors.New("translation unavailable")

// Translator is a machine translation backend. Codes are ISO 639-1 ("en", "hi").
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// CheckHealth verifies the backend is reachable and ready.
	CheckHealth(ctx context.Context) error
}

// Pair is an ordered source to target language pair.
type Pair struct {
	Source language.Code
	Target language.Code
}

func (p Pair) String() string {
	return fmt.Sprintf("%s:%s", p.Source, p.Target)
}

// DefaultPairs are the directions served when no configuration is supplied.
func DefaultPairs() []Pair {
	return []Pair{
		{Source: "en", Target: "hi"},
		{Source: "hi", Target: "en"},
		{Source: "es", Target: "en"},
		{Source: "en", Target: "es"},
	}
}

// ParsePairs parses "src:tgt" entries such as "en:hi".
func ParsePairs(entries []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		src, tgt, ok := strings.Cut(entry, ":")
		src, tgt = strings.TrimSpace(src), strings.TrimSpace(tgt)
		if !ok || src == "" || tgt == "" {
			return nil, fmt.Errorf("invalid translation pair %q, expected src:tgt", entry)
		}

		pairs = append(pairs, Pair{
			Source: language.Code(strings.ToLower(src)),
			Target: language.Code(strings.ToLower(tgt)),
		})
	}

	return pairs, nil
}
