package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/camkeeper/cmd"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/version"
)

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *cmd.Options) {
		if err := opts.Load(cli.Root()); err != nil {
			slog.Warn("Failed to load config", "error", err)
		}
		logging.Initialize(opts.LoggingConfig())
		logger := logging.GetLogger("main")

		// built on start so subcommands never touch the daemon's resources
		var running atomic.Pointer[cmd.Daemon]
		hooks.OnStart(func() {
			daemon, err := cmd.NewDaemon(opts)
			if err != nil {
				logger.Error("Failed to initialize", "error", err)
				os.Exit(1)
			}
			running.Store(daemon)
			if err := daemon.Start(); err != nil {
				logger.Error("Failed to start", "error", err)
				daemon.Stop()
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			if daemon := running.Load(); daemon != nil {
				daemon.Stop()
			}
		})
	})

	root := cli.Root()
	root.Use = "camkeeper"
	root.Short = "Recording session orchestrator for a fixed camera"
	root.Version = version.Version

	root.AddCommand(
		cmd.CreateMergeCmd(),
		cmd.CreateRecoverCmd(),
		cmd.CreateValidateConfigCmd(),
		cmd.CreateCommandCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(c *cobra.Command, _ []string) {
				info := version.Get()
				fmt.Fprintf(c.OutOrStdout(), "camkeeper %s (%s, built %s, %s %s)\n",
					info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
			},
		},
	)

	cli.Run()
}
