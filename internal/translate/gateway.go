package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/sirupsen/logrus"
)

const (
	// UntranslatedPrefix marks text that is delivered in its original language
	// because translation failed.
	UntranslatedPrefix = "[untranslated] "

	DefaultTimeout = 10 * time.Second
)

// Result is the outcome of a gateway call. Text is always deliverable.
type Result struct {
	Text string
	// Translated is set when the backend produced Text.
	Translated bool
	// Failed is set when Text is the marked fallback.
	Failed bool
	Err    error
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Backend Translator
	Pairs   []Pair
	// Timeout bounds each backend call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Languages, when set, restricts pairs to supported codes.
	Languages *language.Resolver
	Logger    *logrus.Logger
}

// Gateway isolates callers from backend failures and latency. It is safe for
// concurrent use.
type Gateway struct {
	backend   Translator
	pairs     map[Pair]struct{}
	timeout   time.Duration
	languages *language.Resolver
	log       *logrus.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Backend == nil {
		return nil, errors.New("translation backend cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	pairs := make(map[Pair]struct{}, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		if p.Source == p.Target {
			return nil, fmt.Errorf("translation pair %s translates a language to itself", p)
		}
		if cfg.Languages != nil {
			if !cfg.Languages.Supported(p.Source) {
				return nil, fmt.Errorf("translation pair %s: unsupported source language", p)
			}
			if !cfg.Languages.Supported(p.Target) {
				return nil, fmt.Errorf("translation pair %s: unsupported target language", p)
			}
		}
		if _, dup := pairs[p]; dup {
			return nil, fmt.Errorf("duplicate translation pair %s", p)
		}
		pairs[p] = struct{}{}
	}

	return &Gateway{
		backend:   cfg.Backend,
		pairs:     pairs,
		timeout:   cfg.Timeout,
		languages: cfg.Languages,
		log:       cfg.Logger,
	}, nil
}

// Available reports whether a backend is configured for the pair.
func (g *Gateway) Available(source, target language.Code) bool {
	_, ok := g.pairs[Pair{Source: source, Target: target}]
	return ok
}

// Translate returns text in the target language. Same-language requests
// return text untouched without calling the backend. Any failure yields the
// marked fallback with Err wrapping ErrTranslationUnavailable.
func (g *Gateway) Translate(ctx context.Context, text string, source, target language.Code) Result {
	if source == target {
		return Result{Text: text}
	}

	pair := Pair{Source: source, Target: target}
	fields := logrus.Fields{"source_lang": source, "target_lang": target}

	if !g.Available(source, target) {
		observe(pair, statusUnavailable)
		err := fmt.Errorf("%w: no translator for %s", ErrTranslationUnavailable, pair)
		g.log.WithFields(fields).
			WithField("direction", g.label(source)+" to "+g.label(target)).
			Warn("Translation model not available")
		return fallback(text, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	translated, err := g.call(ctx, text, pair)
	elapsed := time.Since(start)
	translationRequestDuration.WithLabelValues(string(source), string(target)).Observe(elapsed.Seconds())
	fields["duration_ms"] = elapsed.Milliseconds()

	if err != nil {
		status := statusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = statusTimeout
		}
		observe(pair, status)
		g.log.WithFields(fields).WithError(err).Warn("Translation failed, delivering original text")
		return fallback(text, fmt.Errorf("%w: %s: %w", ErrTranslationUnavailable, pair, err))
	}

	observe(pair, statusOK)
	g.log.WithFields(fields).Debug("Translation completed")
	return Result{Text: translated, Translated: true}
}

type callResult struct {
	text string
	err  error
}

// call runs the backend in its own goroutine so a backend that ignores ctx
// cannot hold the caller past the timeout.
func (g *Gateway) call(ctx context.Context, text string, pair Pair) (string, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("translator panic: %v", r)}
			}
		}()
		out, err := g.backend.Translate(ctx, text, string(pair.Source), string(pair.Target))
		done <- callResult{text: out, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *Gateway) label(code language.Code) string {
	if g.languages == nil {
		return string(code)
	}
	return g.languages.Label(code)
}

// CheckHealth proxies the backend health check.
func (g *Gateway) CheckHealth(ctx context.Context) error {
	return g.backend.CheckHealth(ctx)
}

func fallback(text string, err error) Result {
	return Result{
		Text:   UntranslatedPrefix + text,
		Failed: true,
		Err:    err,
	}
}
