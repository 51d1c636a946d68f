package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/app"
	"github.com/vladislavdragonenkov/quickshop/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// readConfig собирает конфигурацию: значения по умолчанию, YAML из QUICKSHOP_CONFIG, затем переменные окружения.
func readConfig(lookup func(string) (string, bool)) (app.Config, error) {
	path, _ := lookup(app.EnvConfigPath)
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return app.Config{}, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return app.Config{}, fmt.Errorf("apply env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	cfg, err := readConfig(os.LookupEnv)
	if err != nil {
		setupLogger("info")
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTP.Addr,
		"metrics_addr": cfg.Metrics.Addr,
		"storage":      cfg.Storage.Driver,
		"gateway_stub": cfg.Gateway.Stub,
		"version":      version.String(),
	}).Info("запускаем витрину")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("витрина остановлена")
}
