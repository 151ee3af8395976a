package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/AlekSi/pointer"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/cli"

	"github.com/lvdashuaibi/pollbox/internal/service"
)

// adminCommand runs fn against an opened app, reporting errors on the ui.
func adminCommand(ui cli.Ui, configPath string, fn func(ctx context.Context, a *app) error) int {
	ctx := context.Background()

	a, err := openApp(ctx, configPath)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			ui.Error(verr.Message)
		} else {
			ui.Error(err.Error())
		}
		return 1
	}
	return 0
}

// parseTime accepts RFC 3339, a plain date or "now".
func parseTime(s string) (time.Time, error) {
	switch s {
	case "", "now":
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, errors.Errorf("cannot parse time %q, use RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

type migrateCommand struct {
	ui cli.Ui
}

func (c *migrateCommand) Synopsis() string { return "Create or update the database schema" }

func (c *migrateCommand) Help() string {
	return "Usage: pollbox migrate [-config path]"
}

func (c *migrateCommand) Run(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		if err := a.migrate(ctx); err != nil {
			return err
		}
		c.ui.Info("Schema is up to date.")
		return nil
	})
}

type createUserCommand struct {
	ui cli.Ui
}

func (c *createUserCommand) Synopsis() string { return "Create a user account" }

func (c *createUserCommand) Help() string {
	return strings.TrimSpace(`
Usage: pollbox createuser [-config path] [-staff] [username]

  Prompts for the username when it is not given and always prompts for
  the password.
`)
}

func (c *createUserCommand) Run(args []string) int {
	fs := flag.NewFlagSet("createuser", flag.ContinueOnError)
	configPath := configFlag(fs)
	staff := fs.Bool("staff", false, "grant staff status")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	username := fs.Arg(0)
	if username == "" {
		var err error
		if username, err = c.ui.Ask("Username:"); err != nil {
			c.ui.Error(err.Error())
			return 1
		}
	}

	password, err := c.ui.AskSecret("Password:")
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	again, err := c.ui.AskSecret("Password (again):")
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}
	if password != again {
		c.ui.Error("Passwords do not match.")
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		u, err := service.NewAuthService(a.repo).Register(ctx, username, password, *staff)
		if err != nil {
			if errors.Is(err, service.ErrDuplicate) {
				return errors.Errorf("user %q already exists", username)
			}
			return err
		}
		c.ui.Info(fmt.Sprintf("Created user %s (id %d).", u.Username, u.ID))
		return nil
	})
}

type questionAddCommand struct {
	ui cli.Ui
}

func (c *questionAddCommand) Synopsis() string { return "Add a question" }

func (c *questionAddCommand) Help() string {
	return strings.TrimSpace(`
Usage: pollbox question add [-config path] [-pub time] [-end time] text

  Times are RFC 3339 or YYYY-MM-DD. The question is published now unless
  -pub says otherwise and stays open forever unless -end is set.
`)
}

func (c *questionAddCommand) Run(args []string) int {
	fs := flag.NewFlagSet("question add", flag.ContinueOnError)
	configPath := configFlag(fs)
	pub := fs.String("pub", "now", "publication time")
	end := fs.String("end", "", "end of voting")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		c.ui.Error(c.Help())
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		pubDate, err := parseTime(*pub)
		if err != nil {
			return err
		}
		var endDate *time.Time
		if *end != "" {
			t, err := parseTime(*end)
			if err != nil {
				return err
			}
			endDate = pointer.ToTime(t)
		}

		q, err := a.pollService(nil).CreateQuestion(ctx, text, pubDate, endDate)
		if err != nil {
			return err
		}
		c.ui.Info(fmt.Sprintf("Created question %d.", q.ID))
		return nil
	})
}

type questionListCommand struct {
	ui cli.Ui
}

func (c *questionListCommand) Synopsis() string { return "List all questions" }

func (c *questionListCommand) Help() string {
	return "Usage: pollbox question list [-config path]"
}

func (c *questionListCommand) Run(args []string) int {
	fs := flag.NewFlagSet("question list", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		polls := a.pollService(nil)
		questions, err := polls.ListQuestions(ctx)
		if err != nil {
			return err
		}
		if len(questions) == 0 {
			c.ui.Output("No questions.")
			return nil
		}

		now := polls.Now()
		for _, q := range questions {
			state := "open"
			switch {
			case !q.IsPublished(now):
				state = "scheduled"
			case !q.CanVote(now):
				state = "ended"
			}
			c.ui.Output(fmt.Sprintf("%5d  %-9s  %-14s  %s", q.ID, state, humanize.Time(q.PubDate), q.QuestionText))
		}
		return nil
	})
}

type questionDeleteCommand struct {
	ui cli.Ui
}

func (c *questionDeleteCommand) Synopsis() string { return "Delete a question with its choices and votes" }

func (c *questionDeleteCommand) Help() string {
	return "Usage: pollbox question delete [-config path] -id n"
}

func (c *questionDeleteCommand) Run(args []string) int {
	fs := flag.NewFlagSet("question delete", flag.ContinueOnError)
	configPath := configFlag(fs)
	id := fs.Int64("id", 0, "question id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id <= 0 {
		c.ui.Error(c.Help())
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		if err := a.pollService(nil).DeleteQuestion(ctx, *id); err != nil {
			return err
		}
		c.ui.Info(fmt.Sprintf("Deleted question %d.", *id))
		return nil
	})
}

type questionVotesCommand struct {
	ui cli.Ui
}

func (c *questionVotesCommand) Synopsis() string { return "Show the vote audit log of a question" }

func (c *questionVotesCommand) Help() string {
	return "Usage: pollbox question votes [-config path] -id n"
}

func (c *questionVotesCommand) Run(args []string) int {
	fs := flag.NewFlagSet("question votes", flag.ContinueOnError)
	configPath := configFlag(fs)
	id := fs.Int64("id", 0, "question id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id <= 0 {
		c.ui.Error(c.Help())
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		logs, err := a.pollService(nil).VoteLogs(ctx, *id)
		if err != nil {
			return err
		}

		for _, l := range logs {
			line := fmt.Sprintf("%s  user %d chose %d", l.VotedAt.Local().Format(time.RFC3339), l.UserID, l.ChoiceID)
			if l.PreviousChoiceID != nil {
				line += fmt.Sprintf(" (was %d)", *l.PreviousChoiceID)
			}
			c.ui.Output(line)
		}
		c.ui.Output(fmt.Sprintf("%s vote%s recorded.", humanize.Comma(int64(len(logs))), plural(len(logs))))
		return nil
	})
}

type choiceAddCommand struct {
	ui cli.Ui
}

func (c *choiceAddCommand) Synopsis() string { return "Add a choice to a question" }

func (c *choiceAddCommand) Help() string {
	return "Usage: pollbox choice add [-config path] -question n text"
}

func (c *choiceAddCommand) Run(args []string) int {
	fs := flag.NewFlagSet("choice add", flag.ContinueOnError)
	configPath := configFlag(fs)
	questionID := fs.Int64("question", 0, "question id")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	text := strings.Join(fs.Args(), " ")
	if *questionID <= 0 || text == "" {
		c.ui.Error(c.Help())
		return 1
	}

	return adminCommand(c.ui, *configPath, func(ctx context.Context, a *app) error {
		choice, err := a.pollService(nil).AddChoice(ctx, *questionID, text)
		if err != nil {
			return err
		}
		c.ui.Info(fmt.Sprintf("Added choice %d to question %d.", choice.ID, *questionID))
		return nil
	})
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
