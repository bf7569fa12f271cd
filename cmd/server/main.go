// Package main — точка входа сервиса леджера ALTYN.
// Загружает конфигурацию, инициализирует приложение и запускает HTTP-сервер.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/altyn-ledger/internal/app"
	"serotonyl.ru/altyn-ledger/internal/config"
)

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== Леджер запускается ===")

	// Загружаем конфигурацию из .env и переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст отменяется по Ctrl+C или docker stop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем приложение (хранилище, леджер, сервисы, обработчики)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	// Запускаем планировщик задач (cron)
	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("HTTP-сервер слушает %s", cfg.HTTPAddr)
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Останавливаем HTTP-сервер...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		return application.Server.Shutdown(shutdownCtx)
	})

	log.Info("=== Леджер готов к работе ===")

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Сервер остановлен с ошибкой")
	}
	log.Info("=== Леджер остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
