package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	echoapi "github.com/trezcool/chama/apps/api/echo"
	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/booking"
	"github.com/trezcool/chama/core/schedule"
	logsvc "github.com/trezcool/chama/services/logger"
	"github.com/trezcool/chama/storage/database"
	sqlxrepos "github.com/trezcool/chama/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	scheduleSvc := schedule.NewService(sqlxrepos.NewScheduleRepository(db), logger, conf)
	bookingSvc := booking.NewService(db, sqlxrepos.NewBookingRepository(db), logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	schedule.InitValidators(validate, translator)

	// =========================================================================
	// Start Generation Job
	//
	// One rolling-window sweep per day keeps every active template materialized
	// `schedule.windowWeeks` ahead.

	sched := cron.New(cron.WithLocation(conf.Location()))
	if _, err = sched.AddFunc(conf.Schedule.GenerateCron, func() {
		created, err := scheduleSvc.GenerateAll(time.Now())
		if err != nil {
			logger.Error(fmt.Sprintf("session generation sweep: %v", err), err)
			return
		}
		logger.Info(fmt.Sprintf("session generation sweep: %d created", created))
	}); err != nil {
		logger.Fatal(fmt.Sprintf("scheduling generation job: %v", err), err)
	}
	sched.Start()
	defer sched.Stop()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			ScheduleSvc: scheduleSvc,
			BookingSvc:  bookingSvc,
			Validate:    validate,
			Translator:  translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (database.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return database.DB{}, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return database.DB{}, err
	}

	if err = database.Migrate(db); err != nil {
		return database.DB{}, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
