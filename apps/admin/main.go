package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/user"
	logsvc "github.com/trezcool/classboard/services/logger"
	"github.com/trezcool/classboard/services/notify"
	"github.com/trezcool/classboard/storage/database"
	sqlxrepos "github.com/trezcool/classboard/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(logsvc.NewLocalLogger(os.Stderr, "admin", conf), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(logger, err)
	errAndDie(logger, db.Ping())
	errAndDie(logger, goose.SetDialect("postgres"))

	ctx := context.Background()

	// offline transitions from a manual sweep still reach the dashboards through redis
	hub := notify.NewHub(logger)
	var emitter presence.Emitter = hub
	if conf.Redis.Address != "" {
		client, err := notify.NewRedisClient(ctx, conf.Redis)
		errAndDie(logger, err)
		defer func() { _ = client.Close() }()
		emitter = notify.NewRedisEmitter(client, conf.Redis.Channel, hub, logger)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	wbRepo := sqlxrepos.NewWhiteboardRepository(db)
	tracker := presence.NewTracker(wbRepo, emitter, logger, conf)

	// start CLI
	cli := commandLine{
		db:       db.DB,
		users:    user.NewService(sqlxrepos.NewUserRepository(db)),
		apps:     developer.NewService(sqlxrepos.NewAppRepository(db), conf),
		sessions: auth.NewSessions(conf),
		sweeper:  presence.NewSweeper(tracker, logger, conf),
		validate: validate,
		out:      os.Stdout,
		now:      time.Now,
	}
	err = cli.run(ctx, os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
