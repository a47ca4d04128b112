package config

import (
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/npezzotti/go-polyglot/internal/translate"
	"github.com/sirupsen/logrus"
)

// Config is loaded from POLYGLOT_* environment variables first; command line
// flags override whatever the environment supplied.
type Config struct {
	ServerAddr       string            `env:"POLYGLOT_ADDR"               envDefault:"localhost:8000"`
	AllowedOrigins   []string          `env:"POLYGLOT_ALLOWED_ORIGINS"    envSeparator:","`
	Languages        map[string]string `env:"POLYGLOT_LANGUAGES"          envDefault:"English:en,Hindi:hi,Spanish:es"`
	TranslationPairs []string          `env:"POLYGLOT_TRANSLATION_PAIRS"  envDefault:"en:hi,hi:en,es:en,en:es" envSeparator:","`
	MTEngine         string            `env:"POLYGLOT_MT_ENGINE"          envDefault:"none"`
	MTURL            string            `env:"POLYGLOT_MT_URL"             envDefault:"http://localhost:5000"`
	TranslateTimeout time.Duration     `env:"POLYGLOT_TRANSLATE_TIMEOUT"  envDefault:"10s"`
	LogLevel         string            `env:"POLYGLOT_LOG_LEVEL"          envDefault:"info"`

	engine translate.EngineType
	pairs  []translate.Pair
	level  logrus.Level
}

// Parse loads the environment, applies flags from args and validates the result.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	origins := stringSliceFlag{values: cfg.AllowedOrigins}
	pairs := stringSliceFlag{values: cfg.TranslationPairs}
	languages := languageFlag(cfg.Languages)

	fs.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "server address")
	fs.Var(&origins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	fs.Var(&languages, "languages", "comma-separated Label:code list of supported languages")
	fs.Var(&pairs, "translation-pairs", "comma-separated src:tgt list of translation directions")
	fs.StringVar(&cfg.MTEngine, "mt-engine", cfg.MTEngine, "translation engine: libretranslate or none")
	fs.StringVar(&cfg.MTURL, "mt-url", cfg.MTURL, "base URL for the translation engine API")
	fs.DurationVar(&cfg.TranslateTimeout, "translate-timeout", cfg.TranslateTimeout, "timeout for a single translation call")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg.AllowedOrigins = origins.values
	cfg.TranslationPairs = pairs.values
	cfg.Languages = languages

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and resolves the derived settings.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one language must be configured")
	}
	if c.TranslateTimeout <= 0 {
		return fmt.Errorf("translate timeout must be positive, got %s", c.TranslateTimeout)
	}

	engine, err := translate.ParseEngineType(c.MTEngine)
	if err != nil {
		return fmt.Errorf("mt engine: %w", err)
	}
	if engine == translate.EngineLibreTranslate && c.MTURL == "" {
		return fmt.Errorf("mt url cannot be empty for engine %s", engine)
	}

	pairs, err := translate.ParsePairs(c.TranslationPairs)
	if err != nil {
		return fmt.Errorf("translation pairs: %w", err)
	}

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	c.engine = engine
	c.pairs = pairs
	c.level = level
	return nil
}

func (c *Config) Engine() translate.EngineType {
	return c.engine
}

func (c *Config) Pairs() []translate.Pair {
	return c.pairs
}

func (c *Config) Level() logrus.Level {
	return c.level
}

type stringSliceFlag struct {
	values []string
	set    bool
}

func (s *stringSliceFlag) String() string {
	return strings.Join(s.values, ",")
}

// Set replaces the environment value on first use and appends afterwards, so
// the flag can be repeated.
func (s *stringSliceFlag) Set(value string) error {
	if !s.set {
		s.values = nil
		s.set = true
	}
	s.values = append(s.values, strings.Split(value, ",")...)
	return nil
}

type languageFlag map[string]string

func (l *languageFlag) String() string {
	if l == nil {
		return ""
	}
	entries := make([]string, 0, len(*l))
	for label, code := range *l {
		entries = append(entries, label+":"+code)
	}
	sort.Strings(entries)
	return strings.Join(entries, ",")
}

func (l *languageFlag) Set(value string) error {
	table := make(map[string]string)
	for _, entry := range strings.Split(value, ",") {
		label, code, ok := strings.Cut(entry, ":")
		label, code = strings.TrimSpace(label), strings.TrimSpace(code)
		if !ok || label == "" || code == "" {
			return fmt.Errorf("invalid language %q, expected Label:code", entry)
		}
		table[label] = code
	}
	*l = table
	return nil
}
