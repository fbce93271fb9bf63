package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/razumnyak/infractl/clicommand"
	"github.com/razumnyak/infractl/version"
)

const appHelpTemplate = `Usage:

  {{.Name}} <command> [options...]

Available commands are:

  {{range .Commands}}{{.Name}}{{with .ShortName}}, {{.}}{{end}}{{ "\t" }}{{.Usage}}
  {{end}}
Use "{{.Name}} <command> --help" for more information about a command.

`

func main() {
	cli.AppHelpTemplate = appHelpTemplate

	app := cli.NewApp()
	app.Name = "infractl"
	app.Usage = "Infrastructure monitoring and deployment agent"
	app.Version = version.Version()
	app.Commands = []cli.Command{
		clicommand.RunCommand,
		clicommand.ValidateCommand,
		clicommand.DeployCommand,
		clicommand.TokenCommand,
		clicommand.HealthCommand,
		clicommand.SelfUpdateCommand,
	}

	// Running with no arguments starts the service.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
