package clicommand

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli"
)

const healthHelpDescription = `Usage:
  infractl health [options...]

Description:
   Queries the health endpoint of a running infractl node and prints the
   response. Exits non-zero when the node is unreachable or unhealthy.

Example:

   $ infractl health
   $ infractl health --address 10.0.0.2:8111`

var HealthCommand = cli.Command{
	Name:        "health",
	Usage:       "Check a running node's health",
	Description: healthHelpDescription,
	Flags: append(globalFlags(),
		cli.StringFlag{
			Name:  "address",
			Usage: "Node address (defaults to the configured bind address)",
		},
	),
	Action: func(c *cli.Context) error {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		address := c.String("address")
		if address == "" {
			bind := cfg.Server.Bind
			if bind == "0.0.0.0" || bind == "::" {
				bind = "127.0.0.1"
			}
			address = fmt.Sprintf("%s:%d", bind, cfg.Server.Port)
		}

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get("http://" + address + "/health")
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		fmt.Fprintln(c.App.Writer, string(body))

		if resp.StatusCode != http.StatusOK {
			return cli.NewExitError(fmt.Errorf("health endpoint returned %d", resp.StatusCode), 1)
		}
		return nil
	},
}
