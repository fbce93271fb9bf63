package clicommand

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/razumnyak/infractl/updater"
)

const selfUpdateHelpDescription = `Usage:
  infractl self-update [options...]

Description:
   Checks GitHub for a newer release and installs it. The current binary is
   backed up first and restored if the swap fails. The service restarts
   itself afterwards; under systemd it exits and lets the unit restart it.

Example:

   $ infractl self-update
   $ infractl self-update --force --repo razumnyak/infractl`

var SelfUpdateCommand = cli.Command{
	Name:        "self-update",
	Usage:       "Update the binary to the latest release",
	Description: selfUpdateHelpDescription,
	Flags: append(globalFlags(),
		cli.BoolFlag{
			Name:  "force",
			Usage: "Install the latest release even if it is not newer",
		},
		cli.StringFlag{
			Name:  "repo",
			Usage: "GitHub repository to update from (overrides the config)",
		},
		cli.BoolFlag{
			Name:  "prerelease",
			Usage: "Consider prereleases",
		},
	),
	Action: func(c *cli.Context) error {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		log, err := CreateLogger(c, cfg)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		updates := cfg.Updates
		updates.Enabled = true
		updates.SelfUpdate.Enabled = true
		if repo := c.String("repo"); repo != "" {
			updates.SelfUpdate.GithubRepo = repo
		}
		if c.Bool("prerelease") {
			updates.SelfUpdate.Prerelease = true
		}
		if updates.SelfUpdate.GithubRepo == "" {
			return cli.NewExitError(fmt.Errorf("no GitHub repository configured, use --repo"), 1)
		}

		u := updater.New(updates, c.String("config"), log)
		updated, err := u.SelfUpdate(context.Background(), c.Bool("force"))
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		if !updated {
			fmt.Fprintln(c.App.Writer, "Already up to date")
			return nil
		}

		if err := u.RestartFn(log); err != nil {
			return cli.NewExitError(err, 1)
		}
		return nil
	},
}
