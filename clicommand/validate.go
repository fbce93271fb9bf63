package clicommand

import (
	"fmt"

	"github.com/urfave/cli"
)

const validateHelpDescription = `Usage:
  infractl validate [options...]

Description:
   Loads the configuration file, applies defaults, validates it and prints
   a summary. Exits non-zero when the config is unusable.

Example:

   $ infractl validate --config /etc/infractl/config.yaml`

var ValidateCommand = cli.Command{
	Name:        "validate",
	Usage:       "Validate the configuration file",
	Description: validateHelpDescription,
	Flags:       globalFlags(),
	Action: func(c *cli.Context) error {
		cfg, warnings, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		for _, w := range warnings {
			fmt.Fprintf(c.App.Writer, "warning: %s\n", w)
		}

		fmt.Fprintf(c.App.Writer, "Configuration is valid\n")
		fmt.Fprintf(c.App.Writer, "  mode:        %s\n", cfg.Mode)
		fmt.Fprintf(c.App.Writer, "  listen:      %s:%d\n", cfg.Server.Bind, cfg.Server.Port)
		fmt.Fprintf(c.App.Writer, "  isolation:   %t\n", cfg.Server.Isolation())
		fmt.Fprintf(c.App.Writer, "  deployments: %d\n", len(cfg.Modules.Deploy.Deployments))
		for _, d := range cfg.Modules.Deploy.Deployments {
			fmt.Fprintf(c.App.Writer, "    - %s (%s)\n", d.Name, d.Type)
		}
		if len(cfg.Agents) > 0 {
			fmt.Fprintf(c.App.Writer, "  agents:      %d\n", len(cfg.Agents))
			for _, a := range cfg.Agents {
				fmt.Fprintf(c.App.Writer, "    - %s (%s)\n", a.Name, a.Address)
			}
		}
		return nil
	},
}
