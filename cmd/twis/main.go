package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"
)

var version string
var commit string
var date string

// logger is the charm logger installed as the slog default.
var logger *chlog.Logger

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "twis"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "two-wire slave toolbox"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "log warnings and errors only",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    ctx.Bool("verbose"),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		switch {
		case ctx.Bool("verbose"):
			charm.SetLevel(chlog.DebugLevel)
		case ctx.Bool("quiet"):
			charm.SetLevel(chlog.WarnLevel)
		}
		logger = charm
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&simCmd,
		&probeCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}

// applyLogLevel sets the level from a config file unless a flag chose one.
func applyLogLevel(c *cli.Context, level string) error {
	if logger == nil || c.Bool("verbose") || c.Bool("quiet") {
		return nil
	}
	lvl, err := chlog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return nil
}
