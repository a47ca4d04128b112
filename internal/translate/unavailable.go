package translate

import (
	"context"
	"fmt"
)

type unavailableTranslator struct{}

func (unavailableTranslator) Translate(_ context.Context, _, sourceLang, targetLang string) (string, error) {
	return "", fmt.Errorf("%w: no engine configured for %s to %s", ErrTranslationUnavailable, sourceLang, targetLang)
}

func (unavailableTranslator) CheckHealth(context.Context) error {
	return nil
}
