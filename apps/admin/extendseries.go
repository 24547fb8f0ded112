package main

import (
	"time"
)

func (cli *commandLine) extendSeries(templateID string, weeks int) error {
	now := time.Now().UTC()
	created, err := cli.scheduleSvc.Generate(templateID, now, weeks, now)
	if err != nil {
		return err
	}
	logger.Printf("%d session(s) created for template %s", created, templateID)
	return nil
}
