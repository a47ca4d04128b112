package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-polyglot/internal/api"
	"github.com/npezzotti/go-polyglot/internal/config"
	"github.com/npezzotti/go-polyglot/internal/language"
	"github.com/npezzotti/go-polyglot/internal/server"
	"github.com/npezzotti/go-polyglot/internal/stats"
	"github.com/npezzotti/go-polyglot/internal/translate"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.WithError(err).Fatal("config")
	}
	logger.SetLevel(cfg.Level())

	languages, err := language.NewResolver(cfg.Languages)
	if err != nil {
		logger.WithError(err).Fatal("language table")
	}

	backend, err := translate.NewTranslator(translate.Config{
		Engine:  cfg.Engine(),
		BaseURL: cfg.MTURL,
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("translator")
	}

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	if err := backend.CheckHealth(healthCtx); err != nil {
		logger.WithError(err).WithField("engine", cfg.Engine()).Warn("translation engine is not healthy, messages will be delivered untranslated until it recovers")
	}
	cancelHealth()

	gateway, err := translate.NewGateway(translate.GatewayConfig{
		Backend:   backend,
		Pairs:     cfg.Pairs(),
		Timeout:   cfg.TranslateTimeout,
		Languages: languages,
		Logger:    logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("translation gateway")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, languages, gateway, statsUpdater)
	if err != nil {
		logger.WithError(err).Fatal("new chat server")
	}

	srv := api.NewPolyglotApp(mux, logger, chatServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infof("received signal: %s", sig)
	case err := <-errCh:
		logger.WithError(err).Error("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Fatal("HTTP server shutdown")
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.WithError(err).Fatal("chat server shutdown")
	}

	logger.Info("shutdown complete")
}
