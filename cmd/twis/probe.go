package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/twis"
	"github.com/mklimuk/twis/adapter"
	"github.com/mklimuk/twis/cmd/twis/console"
	"github.com/mklimuk/twis/i2c"
	"github.com/mklimuk/twis/regmap"
)

var probeCmd = cli.Command{
	Name:  "probe",
	Usage: "exercise a slave register file from a host master",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Usage:   "mcp2221, periph or nanopi",
			Value:   "mcp2221",
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"d"},
			Usage:   "periph bus name",
			Value:   "/dev/i2c-1",
		},
		&cli.IntFlag{
			Name:  "bus",
			Usage: "nanopi bus number",
			Value: i2c.DefaultNanoPiBus,
		},
		&cli.Int64Flag{
			Name:  "speed",
			Usage: "periph bus clock in Hz, 0 keeps the current one",
		},
		&cli.StringFlag{
			Name:     "addr",
			Usage:    "slave address (hex)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "reg",
			Usage: "first register (hex)",
			Value: "0",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:  "read",
			Usage: "read registers",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "len", Aliases: []string{"n"}, Value: 1},
			},
			Action: func(c *cli.Context) error {
				client, closer, err := openClient(c)
				if err != nil {
					return console.Exit(1, "%s", console.Red(err))
				}
				defer closer.Close()
				data, err := client.Read(context.Background(), byte(mustHex(c.String("reg"))), c.Int("len"))
				if err != nil {
					return console.Exit(1, "read error: %s", console.Red(err))
				}
				console.Print(hex.Dump(data))
				return nil
			},
		},
		{
			Name:      "write",
			Usage:     "write registers",
			ArgsUsage: "<hex data>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return console.Exit(1, "expected 1 argument, got %d", c.NArg())
				}
				data, err := hex.DecodeString(c.Args().Get(0))
				if err != nil {
					return console.Exit(1, "could not decode data: %v", err)
				}
				client, closer, err := openClient(c)
				if err != nil {
					return console.Exit(1, "%s", console.Red(err))
				}
				defer closer.Close()
				if err := client.Write(context.Background(), byte(mustHex(c.String("reg"))), data...); err != nil {
					return console.Exit(1, "write error: %s", console.Red(err))
				}
				console.Print(console.Green("ok"))
				return nil
			},
		},
	},
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func mustHex(s string) uint64 {
	v, _ := strconv.ParseUint(s, 16, 8)
	return v
}

func openClient(c *cli.Context) (*regmap.Client, io.Closer, error) {
	addr, err := strconv.ParseUint(c.String("addr"), 16, 7)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid address %q: %w", c.String("addr"), err)
	}
	if _, err := strconv.ParseUint(c.String("reg"), 16, 8); err != nil {
		return nil, nil, fmt.Errorf("invalid register %q: %w", c.String("reg"), err)
	}
	var bus twis.I2CBus
	var closer io.Closer = nopCloser{}
	switch c.String("adapter") {
	case "mcp2221":
		bus = adapter.NewMCP2221()
	case "periph":
		b, err := i2c.NewGenericBus(c.String("device"))
		if err != nil {
			return nil, nil, err
		}
		if hz := c.Int64("speed"); hz > 0 {
			if err := b.SetSpeed(hz); err != nil {
				_ = b.Close()
				return nil, nil, err
			}
		}
		bus, closer = b, b
	case "nanopi":
		b, err := i2c.NewNanoPiBus(c.Int("bus"))
		if err != nil {
			return nil, nil, err
		}
		bus, closer = b, b
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", c.String("adapter"))
	}
	return regmap.NewClient(bus, byte(addr)), closer, nil
}
