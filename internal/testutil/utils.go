package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/sirupsen/logrus"
)

func TestLogger(t *testing.T) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})
	logger.WithField("test", t.Name()).Debug("test logger ready")

	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}

// TestResolver returns a resolver for English, Hindi and Spanish.
func TestResolver(t *testing.T) *language.Resolver {
	t.Helper()

	r, err := language.NewResolver(language.DefaultLabels())
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	return r
}
