package clicommand

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/internal/token"
)

const deployHelpDescription = `Usage:
  infractl deploy <deployment> [options...]
  infractl deploy --list

Description:
   Triggers a deployment on this node or on an assigned agent. On a home
   node, --agent pins a deployment to an agent; with --permanent the
   assignment is remembered in assignments.yaml next to the config file.

Example:

   $ infractl deploy api
   $ infractl deploy api --agent agent-1 --permanent
   $ infractl deploy api --reset
   $ infractl deploy --list`

var DeployCommand = cli.Command{
	Name:        "deploy",
	Usage:       "Trigger a deployment",
	Description: deployHelpDescription,
	Flags: append(globalFlags(),
		cli.StringFlag{
			Name:  "agent",
			Usage: "Run the deployment on this agent",
		},
		cli.BoolFlag{
			Name:  "permanent",
			Usage: "Remember the agent assignment",
		},
		cli.BoolFlag{
			Name:  "list",
			Usage: "List agent assignments",
		},
		cli.BoolFlag{
			Name:  "reset",
			Usage: "Forget the agent assignment for the deployment",
		},
	),
	Action: func(c *cli.Context) error {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		assignments, err := config.LoadAssignments(config.AssignmentsPath(c.String("config")))
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		if c.Bool("list") {
			if len(assignments.Agents) == 0 {
				fmt.Fprintln(c.App.Writer, "No assignments")
				return nil
			}
			for name, a := range assignments.Agents {
				note := ""
				if a.Permanent {
					note = " (permanent)"
				}
				fmt.Fprintf(c.App.Writer, "%s -> %s%s\n", name, a.Agent, note)
			}
			return nil
		}

		name := c.Args().First()
		if name == "" {
			return cli.NewExitError(fmt.Errorf("a deployment name is required"), 1)
		}

		if c.Bool("reset") {
			if !assignments.Reset(name) {
				return cli.NewExitError(fmt.Errorf("%s has no assignment", name), 1)
			}
			if err := assignments.Save(); err != nil {
				return cli.NewExitError(err, 1)
			}
			fmt.Fprintf(c.App.Writer, "Assignment for %s removed\n", name)
			return nil
		}

		agentName := c.String("agent")
		if agentName == "" {
			if a, ok := assignments.Lookup(name); ok {
				agentName = a.Agent
			}
		} else if c.Bool("permanent") {
			assignments.Set(name, agentName, true)
			if err := assignments.Save(); err != nil {
				return cli.NewExitError(err, 1)
			}
			fmt.Fprintf(c.App.Writer, "%s permanently assigned to %s\n", name, agentName)
		}

		address, err := deployTarget(cfg, agentName)
		if err != nil {
			return cli.NewExitError(err, 1)
		}

		if err := dispatchDeploy(cfg, address, name, c.App.Writer); err != nil {
			return cli.NewExitError(err, 1)
		}
		return nil
	},
}

// deployTarget picks the node to send the deploy request to: the named
// agent, or this node.
func deployTarget(cfg *config.Config, agentName string) (string, error) {
	if agentName == "" {
		bind := cfg.Server.Bind
		if bind == "0.0.0.0" || bind == "::" {
			bind = "127.0.0.1"
		}
		return fmt.Sprintf("%s:%d", bind, cfg.Server.Port), nil
	}
	for _, a := range cfg.Agents {
		if a.Name == agentName {
			return a.Address, nil
		}
	}
	return "", fmt.Errorf("agent %s is not configured", agentName)
}

func dispatchDeploy(cfg *config.Config, address, name string, out io.Writer) error {
	tok, err := token.Mint([]byte(cfg.Auth.JWTSecret), "cli", time.Hour)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+address+"/webhook/deploy/"+name, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deploy request to %s returned %d: %s", address, resp.StatusCode, body)
	}
	fmt.Fprintln(out, string(body))
	return nil
}
