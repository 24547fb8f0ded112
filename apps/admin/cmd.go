package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/trezcool/chama/core/schedule"
	"github.com/trezcool/chama/storage/database"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db          database.DB
	scheduleSvc *schedule.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run database migrations (up, down, status, ...)")
	fmt.Println("  extendseries -template ID -weeks N - materialize the template's upcoming sessions")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	extendCmd := flag.NewFlagSet("extendseries", flag.ExitOnError)
	extendTplID := extendCmd.String("template", "", "The recurrence template's ID.")
	extendWeeks := extendCmd.Int("weeks", 0, "How many weeks ahead to materialize.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "extendseries":
		if err := extendCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *extendTplID == "" || *extendWeeks <= 0 {
			extendCmd.Usage()
			return errHelp
		}
		return cli.extendSeries(*extendTplID, *extendWeeks)
	default:
		cli.printUsage()
		return errHelp
	}
}
