package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/twis/cmd/twis/console"
	"github.com/mklimuk/twis/config"
)

var simCmd = cli.Command{
	Name:  "sim",
	Usage: "drive simulated slaves from a simulated master",
	Subcommands: []*cli.Command{
		&simRunCmd,
		&simConsoleCmd,
	},
}

var simFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "instance configuration file",
	},
	&cli.BoolFlag{
		Name:  "blocking",
		Usage: "serve the first instance in blocking mode",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "timeout of a single transfer",
		Value: time.Second,
	},
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if c.Bool("blocking") {
		cfg.Instances[0].Blocking = true
	}
	if err := applyLogLevel(c, cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

var simRunCmd = cli.Command{
	Name:  "run",
	Usage: "run a master script, e.g. w:42:00aabb,r:42:2,wr:42:01:2",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:     "script",
			Aliases:  []string{"s"},
			Required: true,
		},
	}, simFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "config error: %s", console.Red(err))
		}
		steps, err := parseScript(c.String("script"))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		r, err := newRig(cfg, slog.Default())
		if err != nil {
			return console.Exit(1, "setup error: %s", console.Red(err))
		}
		defer r.close()

		g, ctx := errgroup.WithContext(c.Context)
		ctx, cancel := context.WithCancel(ctx)
		g.Go(func() error {
			return r.serve(ctx)
		})
		g.Go(func() error {
			defer cancel()
			runScript(ctx, r, steps, c.Duration("timeout"))
			return nil
		})
		if err := g.Wait(); err != nil {
			return console.Exit(1, "serve error: %s", console.Red(err))
		}
		printState(r)
		return nil
	},
}

func runScript(ctx context.Context, r *rig, steps []step, timeout time.Duration) {
	for i, s := range steps {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		data, err := r.run(sctx, s)
		cancel()
		if err != nil {
			console.PInfof(console.PictoStop, "%d %s: %s", i, s, console.Red(err))
			continue
		}
		if data != nil {
			console.PInfof(console.PictoPin, "%d %s: %s", i, s, console.Green(fmt.Sprintf("%x", data)))
			continue
		}
		console.PInfof(console.PictoPin, "%d %s: %s", i, s, console.Green("ok"))
	}
	console.PInfof(console.PictoFinish, "%d steps done", len(steps))
}

func printState(r *rig) {
	for _, t := range r.targets {
		stats := t.file.Stats()
		console.Printf("%s %s state=%s writes=%d reads=%d faults=%s\n",
			console.Bold(t.name), console.Cyan(t.engine.Lifecycle()), t.engine.State(),
			stats.Writes, stats.Reads, stats.Faults)
		console.Printf("  regs %x\n", t.file.Snapshot())
	}
}

var consoleCommands = []string{"w", "r", "wr", "state", "errors", "enable", "disable", "regs", "help", "quit"}

var simConsoleCmd = cli.Command{
	Name:  "console",
	Usage: "interactive master on the simulated bus",
	Flags: simFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "config error: %s", console.Red(err))
		}
		r, err := newRig(cfg, slog.Default())
		if err != nil {
			return console.Exit(1, "setup error: %s", console.Red(err))
		}
		defer r.close()
		rl, err := console.Shell("twis> ", consoleCommands...)
		if err != nil {
			return console.Exit(1, "could not open prompt: %s", console.Red(err))
		}
		defer rl.Close()

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()
		serveErr := make(chan error, 1)
		go func() { serveErr <- r.serve(ctx) }()

		for {
			line, err := rl.Readline()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				// ^C clears the line
				continue
			}
			quit, err := execute(ctx, r, strings.Fields(line), c.Duration("timeout"))
			if err != nil {
				console.Errorf("%s", err)
			}
			if quit {
				break
			}
		}
		cancel()
		if err := <-serveErr; err != nil {
			return console.Exit(1, "serve error: %s", console.Red(err))
		}
		return nil
	},
}

// execute runs one console command and reports whether to quit.
func execute(ctx context.Context, r *rig, args []string, timeout time.Duration) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		console.Print("w <addr> <hex> | r <addr> <n> | wr <addr> <hex> <n> | state | errors [name] | enable [name] | disable [name] | regs [name] | quit")
	case "w", "r", "wr":
		s, err := parseStep(args)
		if err != nil {
			return false, err
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		data, err := r.run(sctx, s)
		if err != nil {
			return false, err
		}
		if data != nil {
			console.Print(console.Green(fmt.Sprintf("%x", data)))
		}
	case "state":
		printState(r)
	case "errors", "enable", "disable", "regs":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		t, err := r.find(name)
		if err != nil {
			return false, err
		}
		switch args[0] {
		case "errors":
			if faults := t.engine.ErrorGetAndClear(); !faults.Empty() {
				console.Warnf("%s: cleared %s", t.name, faults)
			} else {
				console.Infof("%s: no faults latched", t.name)
			}
		case "enable":
			t.engine.Enable()
			if !t.blocking {
				if err := t.file.Arm(ctx, t.engine); err != nil {
					return false, err
				}
			}
			console.Infof("%s %s", t.name, console.Cyan(t.engine.Lifecycle()))
		case "disable":
			if t.blocking {
				return false, fmt.Errorf("instance %s is served in blocking mode and stays enabled", t.name)
			}
			t.engine.Disable()
			console.Infof("%s %s", t.name, console.Cyan(t.engine.Lifecycle()))
		case "regs":
			regs := t.file.Snapshot()
			for i := 0; i < len(regs); i += 16 {
				end := min(i+16, len(regs))
				console.Printf("%s % x\n", console.White(strconv.FormatInt(int64(i), 16)), regs[i:end])
			}
		}
	default:
		return false, fmt.Errorf("unknown command %q, try help", args[0])
	}
	return false, nil
}
