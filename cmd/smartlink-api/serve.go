package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/auth"
	"github.com/mdmcmusicads/smartlink/internal/server"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context) error {
	built, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer built.Close()
	appConfig := built.config
	logger := built.logger

	if err := appConfig.RequireSession(); err != nil {
		return err
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	dispatcher, err := analytics.NewDispatcher(analytics.DispatcherConfig{
		Recorder:   built.analytics,
		Workers:    appConfig.AnalyticsWorkers,
		BufferSize: appConfig.AnalyticsBuffer,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		Accounts:       built.accounts,
		Resolver:       built.resolver,
		SmartLinks:     built.store,
		Analytics:      built.analytics,
		Events:         dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("analytics events lost on shutdown", zap.Error(err))
		}
		return shutdownErr
	case err := <-errCh:
		_ = dispatcher.Close(context.Background())
		return err
	}
}
