package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/classboard/apps/api/echo"
	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
	logsvc "github.com/trezcool/classboard/services/logger"
	"github.com/trezcool/classboard/services/notify"
	"github.com/trezcool/classboard/storage/database"
	inmemdb "github.com/trezcool/classboard/storage/database/inmem"
	sqlxrepos "github.com/trezcool/classboard/storage/database/sqlx"
)

type repositories struct {
	users       user.Repository
	classes     class.Repository
	whiteboards whiteboard.Repository
	apps        developer.Repository
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(logsvc.NewLocalLogger(os.Stdout, "api", conf), conf)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(logsvc.NewLocalLogger(os.Stdout, "db", conf), conf)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	repos, closeDB, err := setUpRepositories(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = closeDB(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up the push channel
	hub := notify.NewHub(logger)
	var emitter presence.Emitter = hub

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Redis.Address != "" {
		client, err := notify.NewRedisClient(ctx, conf.Redis)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() { _ = client.Close() }()

		redisEmitter := notify.NewRedisEmitter(client, conf.Redis.Channel, hub, logger)
		emitter = redisEmitter
		go func() {
			if err := redisEmitter.Listen(ctx); err != nil {
				logger.Error("redis listener stopped", err)
			}
		}()
	}

	// set up services
	usrSvc := user.NewService(repos.users)
	classSvc := class.NewService(repos.classes, conf)
	wbSvc := whiteboard.NewService(repos.whiteboards, conf)
	devSvc := developer.NewService(repos.apps, conf)
	tracker := presence.NewTracker(repos.whiteboards, emitter, logger, conf)
	sweeper := presence.NewSweeper(tracker, logger, conf)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Presence Sweeper

	sweeper.Start(ctx)
	defer sweeper.Stop()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Validate:      validate,
			Translator:    translator,
			Gate:          auth.NewGate(usrSvc, wbSvc, devSvc),
			Sessions:      auth.NewSessions(conf),
			Tracker:       tracker,
			Hub:           hub,
			UserSvc:       usrSvc,
			ClassSvc:      classSvc,
			WhiteboardSvc: wbSvc,
			DeveloperSvc:  devSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// stop the sweeper before draining requests
		sweeper.Stop()

		// give outstanding requests a deadline for completion
		sctx, scancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer scancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(sctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}

		// push channel connections are hijacked, so Shutdown leaves them open.
		// Closing them records boards offline before the process exits.
		hctx, hcancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer hcancel()
		if err = hub.CloseAll(hctx); err != nil {
			logger.Error(fmt.Sprintf("could not close push channel clients: %v", err), err)
		}
		cancel()
	}
}

// setUpRepositories returns the repositories of the configured database engine and a func closing it.
func setUpRepositories(conf *core.Config) (repositories, func() error, error) {
	if conf.Database.Engine == "memory" {
		db := inmemdb.Open()
		return repositories{
			users:       inmemdb.NewUserRepository(db),
			classes:     inmemdb.NewClassRepository(db),
			whiteboards: inmemdb.NewWhiteboardRepository(db),
			apps:        inmemdb.NewAppRepository(db),
		}, func() error { return nil }, nil
	}

	db, err := setUpDB(conf)
	if err != nil {
		return repositories{}, nil, err
	}
	return repositories{
		users:       sqlxrepos.NewUserRepository(db),
		classes:     sqlxrepos.NewClassRepository(db),
		whiteboards: sqlxrepos.NewWhiteboardRepository(db),
		apps:        sqlxrepos.NewAppRepository(db),
	}, db.Close, nil
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, errors.Wrap(err, "creating database")
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	if err = database.Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrating database")
	}
	return db, nil
}
