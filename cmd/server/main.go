package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"otp-service/internal/factory"
	"otp-service/internal/handler"
	otptls "otp-service/internal/tls"
	"otp-service/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(context.Background()); err != nil {
		util.Fatal("OTP service stopped with error", util.ErrorField(err))
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg := f.Config()

	providerCfg, err := f.ProviderConfig(ctx)
	if err != nil {
		return err
	}
	otpService := f.ServiceFactory().OTPService()
	if err := otpService.Initialize(ctx, providerCfg); err != nil {
		return err
	}

	router := handler.NewRouter(handler.NewOTPHandler(otpService, util.Get()), util.Get(), handler.RouterOptions{
		RequireTLS:     cfg.Server.RequireTLS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		AdminToken:     cfg.Server.AdminToken,
	})

	// Create HTTP server with configured timeouts
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.TLS.Enabled {
		tlsManager, err := otptls.NewManager(cfg.Server.TLS, cfg.IsProduction())
		if err != nil {
			return err
		}
		server.TLSConfig = tlsManager.TLSConfig()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		util.Info("Server started successfully",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
			util.String("provider", providerCfg.Provider),
			util.Bool("dry_run", providerCfg.DryRun),
			util.Bool("tls_enabled", server.TLSConfig != nil),
		)
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			util.Warn("Starting HTTP server - TLS is disabled")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return otpService.StartCleanup(gctx, cfg.OTP.CleanupInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Received shutdown signal, draining HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
			return err
		}
		util.Info("Server shutdown completed")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	util.Info("OTP service exited", util.Int("pid", os.Getpid()))
	return nil
}
