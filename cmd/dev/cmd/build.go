package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/gophertribe/devtool/build"
	"github.com/spf13/cobra"
)

// targets are the boards the twis tool is shipped for besides the host.
var targets = map[string][2]string{
	"host":   {runtime.GOOS, runtime.GOARCH},
	"nanopi": {"linux", "arm"},
	"rpi":    {"linux", "arm64"},
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [target]",
		Short: "Build the twis binary for the host or a board (nanopi, rpi)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "host"
			if len(args) == 1 {
				name = args[0]
			}
			t, ok := targets[name]
			if !ok {
				return fmt.Errorf("unknown target %q", name)
			}
			version, err := cmd.Flags().GetString("version")
			if err != nil {
				return fmt.Errorf("could not get version flag: %w", err)
			}
			out := "dist/twis"
			if name != "host" {
				out = fmt.Sprintf("dist/twis-%s-%s", t[0], t[1])
			}
			slog.Info("building", "target", name, "os", t[0], "arch", t[1], "output", out)
			// hid needs cgo which only works natively; board builds go through docker
			if t[0] == runtime.GOOS && t[1] == runtime.GOARCH {
				return build.GoBuild(out, "./cmd/twis", build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "main",
					EnableCgo:     true,
					Arch:          t[1],
					OS:            t[0],
				})
			}
			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", t[0], t[1]), []string{"build", "--version", version, name}, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   "gophertribe/gobuild:1.25-bookworm",
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building in docker")
	cmd.Flags().String("version", "latest", "version injected into the binary")
	return cmd
}
