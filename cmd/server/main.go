package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/zsazsa/lefauxpain-sub000/internal/adapters/http"
	"github.com/zsazsa/lefauxpain-sub000/internal/adapters/rtc"
	sig "github.com/zsazsa/lefauxpain-sub000/internal/adapters/signal"
	"github.com/zsazsa/lefauxpain-sub000/internal/app/sfu"
	"github.com/zsazsa/lefauxpain-sub000/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	engine, err := rtc.NewEngine(rtc.EngineConfig{
		STUNServer: cfg.STUNServer,
		PublicIP:   cfg.PublicIP,
		PreferH264: cfg.ScreenPreferH264,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media engine")
	}

	manager := sfu.NewManager(ctx, engine, cfg.NegotiationTimeout)
	ctl := sig.NewController(cfg, manager)
	manager.BindEvents(ctl)

	r := router.SetupRouter(ctx, cfg, ctl, manager)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("SFU server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
