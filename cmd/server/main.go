package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"boutiquepos/backend/internal/cache"
	"boutiquepos/backend/internal/config"
	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/httpapi"
	"boutiquepos/backend/internal/service"
	"boutiquepos/backend/internal/store"
	"boutiquepos/backend/internal/store/memory"
	pgstore "boutiquepos/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Str("app", "boutiquepos").Logger()
	if cfg.Development {
		log = log.Level(zerolog.DebugLevel).Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if !cfg.Development && len(cfg.AuthSecret) < 32 {
		log.Fatal().Msg("AUTH_SECRET must be set and at least 32 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	order := store.LegacyFirst
	if cfg.DeductContainersFirst {
		order = store.ContainersFirst
	}

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, order)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.New(order)
		log.Info().Msg("repository: in-memory")
	}

	summaryCache := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop summary cache")
		} else {
			summaryCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	if cfg.Development {
		bootstrapAdmin(ctx, repo, log)
	}

	svc := service.New(repo, summaryCache, time.Duration(cfg.SummaryCacheSeconds)*time.Second, log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("inventory backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// bootstrapAdmin seeds a default admin account in development so a fresh
// checkout can log in. Never runs in production mode.
func bootstrapAdmin(ctx context.Context, repo store.Repository, log zerolog.Logger) {
	if _, err := repo.GetUser(ctx, "admin"); err == nil {
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("admin bootstrap lookup failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-change-me"), bcrypt.DefaultCost)
	if err != nil {
		log.Warn().Err(err).Msg("admin bootstrap hash failed")
		return
	}
	err = repo.CreateUser(ctx, domain.UserAccount{
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         service.RoleAdmin,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("admin bootstrap failed")
		return
	}
	log.Info().Msg("seeded development admin account")
}
