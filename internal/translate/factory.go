package translate

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// EngineType selects the translation backend.
type EngineType string

const (
	// EngineLibreTranslate talks to a LibreTranslate server over HTTP.
	EngineLibreTranslate EngineType = "libretranslate"
	// EngineNone disables translation; every cross-language message falls back
	// to the untranslated text.
	EngineNone EngineType = "none"
)

// Config holds configuration for creating a Translator.
type Config struct {
	Engine  EngineType
	BaseURL string
	Logger  *logrus.Logger
}

// NewTranslator creates the backend named by cfg.Engine.
func NewTranslator(cfg Config) (Translator, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	cfg.Logger.WithFields(logrus.Fields{
		"engine":   cfg.Engine,
		"base_url": cfg.BaseURL,
	}).Info("Creating translator instance")

	switch cfg.Engine {
	case EngineLibreTranslate:
		return NewLibreTranslateClient(cfg.BaseURL, cfg.Logger), nil
	case EngineNone:
		return unavailableTranslator{}, nil
	default:
		cfg.Logger.WithField("engine", cfg.Engine).Error("Unknown translation engine")
		return nil, fmt.Errorf("unknown translation engine: %s", cfg.Engine)
	}
}

// ParseEngineType parses a case-insensitive engine name.
func ParseEngineType(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "libretranslate":
		return EngineLibreTranslate, nil
	case "none", "":
		return EngineNone, nil
	default:
		return "", fmt.Errorf("unknown engine type: %s (supported: libretranslate, none)", s)
	}
}
