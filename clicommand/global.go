// Package clicommand holds the infractl subcommands.
package clicommand

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/logger"
)

var ConfigFlag = cli.StringFlag{
	Name:   "config",
	Value:  config.DefaultPath,
	Usage:  "Path to the configuration file",
	EnvVar: "INFRACTL_CONFIG",
}

var LogLevelFlag = cli.StringFlag{
	Name:   "log-level",
	Usage:  "Log level (debug, info, notice, warn, error), overrides the config",
	EnvVar: "INFRACTL_LOG_LEVEL",
}

var LogFormatFlag = cli.StringFlag{
	Name:   "log-format",
	Usage:  "Log format (text or json), overrides the config",
	EnvVar: "INFRACTL_LOG_FORMAT",
}

var NoColorFlag = cli.BoolFlag{
	Name:   "no-color",
	Usage:  "Don't show colors in logging",
	EnvVar: "INFRACTL_NO_COLOR",
}

func globalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, LogLevelFlag, LogFormatFlag, NoColorFlag}
}

// CreateLogger builds the logger from flags, falling back to the config's
// logging section.
func CreateLogger(c *cli.Context, cfg *config.Config) (logger.Logger, error) {
	format := c.String("log-format")
	level := c.String("log-level")
	if cfg != nil {
		if format == "" {
			format = cfg.Logging.Format
		}
		if level == "" {
			level = cfg.Logging.Level
		}
	}

	var l logger.Logger
	switch format {
	case "json":
		l = logger.NewJSONLogger()
	case "text", "":
		t := logger.NewTextLogger()
		if c.Bool("no-color") {
			t.Colors = false
		}
		l = t
	default:
		return nil, fmt.Errorf("unknown log format %q, expected text or json", format)
	}

	if level != "" {
		lv, err := logger.LevelFromString(level)
		if err != nil {
			return nil, err
		}
		l.SetLevel(lv)
	}
	return l, nil
}

// loadConfig loads the config file named by the --config flag and logs any
// load warnings once a logger exists.
func loadConfig(c *cli.Context) (*config.Config, []string, error) {
	path := c.String("config")
	cfg, warnings, err := config.Load(path)
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}
