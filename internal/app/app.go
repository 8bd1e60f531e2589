package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citydesk/internal/auth"
	"citydesk/internal/config"
	"citydesk/internal/controller"
	"citydesk/internal/events"
	"citydesk/internal/logger"
	"citydesk/internal/models"
	"citydesk/internal/repository"
	"citydesk/internal/repository/memory"
	"citydesk/internal/router"
	"citydesk/internal/service"

	"github.com/sirupsen/logrus"
)

// Storage is the repository the app serves from plus its shutdown hook.
type Storage interface {
	service.Repository
	Close() error
}

type App struct {
	repo       Storage
	hub        *events.Hub
	auth       *auth.Authenticator
	service    *service.Service
	controller *controller.Controller
	log        *logrus.Logger
	logOut     io.Writer
	stopSig    chan os.Signal
	cfg        *config.Config

	Done chan struct{}
}

type option func(*App)

func WithConfig(cfg *config.Config) option {
	return func(app *App) {
		app.cfg = cfg
	}
}

// WithStorage replaces the storage chosen by configuration.
func WithStorage(repo Storage) option {
	return func(app *App) {
		app.repo = repo
	}
}

func WithLogOutput(w io.Writer) option {
	return func(app *App) {
		app.logOut = w
	}
}

func NewApp(opts ...option) (*App, error) {
	app := &App{
		stopSig: make(chan os.Signal, 2),
		Done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.cfg == nil {
		cfg, err := config.NewConfig()
		if err != nil {
			return nil, err
		}
		app.cfg = cfg
	}

	app.log = logger.New(app.cfg.Env, app.cfg.LogLevel, app.cfg.LogFormat, app.logOut)

	if app.repo == nil {
		repo, err := openStorage(app.cfg, app.log)
		if err != nil {
			return nil, err
		}
		app.repo = repo
	}

	departments := models.NewDepartments(app.cfg.Departments...)
	app.hub = events.NewHub(32)
	app.auth = auth.New(app.cfg.JWTSecret, departments, app.log)
	if !app.auth.Enabled() {
		app.log.Warn("JWT_SECRET is not set, authentication is disabled")
	}

	app.service = service.NewService(app.repo, departments,
		service.WithPublisher(app.hub),
		service.WithLogger(app.log.WithField("component", "service")),
	)
	app.controller = controller.NewController(app.service,
		controller.WithEvents(app.hub),
		controller.WithLogger(app.log.WithField("component", "controller")),
	)

	return app, nil
}

func openStorage(cfg *config.Config, log *logrus.Logger) (Storage, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case config.StoragePostgres, "":
		repo, err := repository.NewRepository(nil, &cfg.PostgresConfig, log)
		if err != nil {
			return nil, fmt.Errorf("app.openStorage: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("app.openStorage: unknown storage %q", cfg.Storage)
	}
}

func (app *App) Handler() http.Handler {
	return router.NewRouter(app.controller, router.Config{
		CORSOrigin: app.cfg.CORSOrigin,
		Auth:       app.auth.Middleware,
		Log:        app.log.WithField("component", "http"),
	})
}

// Stop asks a running app to shut down, as SIGTERM would.
func (app *App) Stop() {
	app.stopSig <- syscall.SIGTERM
}

func (app *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signal.Notify(app.stopSig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		sig := <-app.stopSig
		app.log.Infof("Received signal: %s", sig)
		cancel()
	}()

	server := http.Server{
		Addr:         app.cfg.ServerAddress,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	server.RegisterOnShutdown(app.hub.Close)

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			app.log.Error("Http server error: ", err)
			cancel()
		}
	}()

	app.log.Infof("Server started at %s, listening for connections...", app.cfg.ServerAddress)
	<-ctx.Done()

	timeout, tcancel := context.WithTimeout(context.Background(), time.Second*10)
	defer tcancel()
	app.log.Info("Shutting down http server...")
	server.Shutdown(timeout)

	app.log.Info("Closing repository...")
	err := app.repo.Close()
	if err != nil {
		app.log.Error("Repository closing error: ", err)
	}

	close(app.Done)
	app.log.Info("Exiting app.")
}
