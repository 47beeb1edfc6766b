package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/server"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/refreshtoken"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is a wired token authority. Start initializes the signing keys, starts
// the background workers and, unless built without HTTP, the server.
type App struct {
	fx       *fx.App
	config   *config.Config
	logger   *logging.Service
	db       *gorm.DB
	store    *resilient.Store
	keys     *keys.Manager
	tokens   *jwt.Service
	guard    *refreshtoken.Guard
	sessions session.Service
	server   *server.Server
}

func (a *App) Start() error {
	return a.fx.Start(context.Background())
}

func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	a.logger.Info("received shutdown signal, stopping gracefully", zap.String("signal", sig.String()))

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to stop application gracefully", zap.Error(err))
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}

// Server is nil for an app built without HTTP.
func (a *App) Server() *server.Server {
	return a.server
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Store() *resilient.Store {
	return a.store
}

func (a *App) Keys() *keys.Manager {
	return a.keys
}

func (a *App) Tokens() *jwt.Service {
	return a.tokens
}

func (a *App) Guard() *refreshtoken.Guard {
	return a.guard
}

func (a *App) Sessions() session.Service {
	return a.sessions
}
