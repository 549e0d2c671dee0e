package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ticket-manager/internal/auth"
	"ticket-manager/internal/config"
	apphttp "ticket-manager/internal/http"
	"ticket-manager/internal/repository"
	"ticket-manager/internal/repository/postgres"
	"ticket-manager/internal/repository/sqlite"
	"ticket-manager/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, closeStore, err := openUserRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer closeStore()

	if err := users.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.PasswordScheme)
	if err != nil {
		logger.Fatalf("password hasher: %v", err)
	}
	if cfg.Auth.PasswordScheme == auth.SchemePlain {
		logger.Warn("passwords are stored verbatim; set TICKETS_AUTH_PASSWORDSCHEME=bcrypt to hash them")
	}

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.TokenTTL(), cfg.Auth.Issuer)
	if err != nil {
		logger.Fatalf("token issuer: %v", err)
	}

	userService := service.NewUserService(users, hasher, tokens, logger)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, tokens, users, cfg.AllowedOrigins(), logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func openUserRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (repository.UserRepository, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres credential store")
		return postgres.NewUserRepository(pool), pool.Close, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("using sqlite credential store at %s", cfg.Database.Path)
		return sqlite.NewUserRepository(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
