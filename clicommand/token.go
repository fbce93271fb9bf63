package clicommand

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/internal/token"
)

const tokenHelpDescription = `Usage:
  infractl token [options...]

Description:
   Mints a bearer token signed with the configured JWT secret, for curl
   and scripted API access.

Example:

   $ curl -H "Authorization: Bearer $(infractl token)" localhost:8111/api/metrics`

var TokenCommand = cli.Command{
	Name:        "token",
	Usage:       "Mint an API bearer token",
	Description: tokenHelpDescription,
	Flags: append(globalFlags(),
		cli.StringFlag{
			Name:  "subject",
			Value: "cli",
			Usage: "Token subject",
		},
		cli.StringFlag{
			Name:  "ttl",
			Usage: "Token lifetime (defaults to the configured token_ttl)",
		},
	),
	Action: func(c *cli.Context) error {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		ttlStr := c.String("ttl")
		if ttlStr == "" {
			ttlStr = cfg.Auth.TokenTTL
		}
		ttl, err := config.ParseDuration(ttlStr)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		tok, err := token.Mint([]byte(cfg.Auth.JWTSecret), c.String("subject"), ttl)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		fmt.Fprintln(c.App.Writer, tok)
		return nil
	},
}
