package main

import (
	"log"
	"os"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/schedule"
	logsvc "github.com/trezcool/chama/services/logger"
	"github.com/trezcool/chama/storage/database"
	sqlxrepos "github.com/trezcool/chama/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	svcLogger := logsvc.NewRollbarLogger(logger, conf)
	svcLogger.Enable(false) // no remote reporting from the CLI

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	// start CLI
	cli := commandLine{
		db:          db,
		scheduleSvc: schedule.NewService(sqlxrepos.NewScheduleRepository(db), svcLogger, conf),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
