package main

import (
	"os"

	"github.com/mitchellh/cli"
	"github.com/sirupsen/logrus"
)

const version = "0.1.0"

func main() {
	ui := &cli.ColoredUi{
		InfoColor:  cli.UiColorGreen,
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
	}

	c := cli.NewCLI("pollbox", version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &serveCommand{ui: ui}, nil
		},
		"migrate": func() (cli.Command, error) {
			return &migrateCommand{ui: ui}, nil
		},
		"createuser": func() (cli.Command, error) {
			return &createUserCommand{ui: ui}, nil
		},
		"question add": func() (cli.Command, error) {
			return &questionAddCommand{ui: ui}, nil
		},
		"question list": func() (cli.Command, error) {
			return &questionListCommand{ui: ui}, nil
		},
		"question delete": func() (cli.Command, error) {
			return &questionDeleteCommand{ui: ui}, nil
		},
		"question votes": func() (cli.Command, error) {
			return &questionVotesCommand{ui: ui}, nil
		},
		"choice add": func() (cli.Command, error) {
			return &choiceAddCommand{ui: ui}, nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		logrus.WithError(err).Error("command failed")
	}
	os.Exit(exitStatus)
}
