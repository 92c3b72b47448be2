package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	repo "github.com/parleyhq/parley/internal/adapter/driven/persistence/memory"
	handler "github.com/parleyhq/parley/internal/adapter/driving/http"
)

func main() {
	addr := pflag.String("addr", ":8080", "listen address")
	staticDir := pflag.String("static", "", "directory of static assets to serve, empty to disable")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	messages := repo.NewMessageRepository()
	hub := handler.NewHub(messages)
	h := handler.NewHandler(hub, *staticDir)

	srv := &http.Server{
		Addr:    *addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", *addr).Msg("starting signaling relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("server exited")
}
