package translate

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockTranslator struct {
	mock.Mock
}

func (m *MockTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	args := m.Called(ctx, text, sourceLang, targetLang)
	return args.String(0), args.Error(1)
}

func (m *MockTranslator) CheckHealth(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
