package main

import (
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/trezcool/chama/storage/database"
)

var gooseRunFunc = goose.Run // mockable

func (cli *commandLine) migrate(args []string) error {
	goose.SetBaseFS(database.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.sqlDB(), "migrations", arguments...)
}

func (cli *commandLine) sqlDB() *sql.DB {
	if cli.db.DB == nil {
		return nil
	}
	return cli.db.DB.DB
}
