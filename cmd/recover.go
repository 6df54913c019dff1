package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/merge"
)

// CreateRecoverCmd creates the recover command: merge every session a
// previous run left unmerged, once, and exit. It must not run next to the
// daemon, which does the same at startup.
func CreateRecoverCmd() *cobra.Command {
	var recordingDir, catalogFile string
	var bitrate int
	var encoder string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Merge orphaned segments left by an earlier run and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initCLILogging(logJSON)
			logger := logging.GetLogger("merge")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var cat *catalog.Catalog
			var pending merge.Pending
			if catalogFile != "" {
				c, err := catalog.Open(catalogFile, logging.GetLogger("catalog"))
				if err != nil {
					logger.Warn("Catalog unavailable, scanning files only", "path", catalogFile, "error", err)
				} else {
					defer func() { _ = c.Close() }()
					cat, pending = c, c
				}
			}

			jobs, err := merge.Recover(ctx, recordingDir, pending, "", logger)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to recover")
				return nil
			}
			return runJobs(ctx, cmd.OutOrStdout(), newEngine(bitrate, encoder), jobs, cat)
		},
	}

	cmd.Flags().StringVar(&recordingDir, "recording-dir", "recordings", "Directory holding the segments")
	cmd.Flags().StringVar(&catalogFile, "catalog", "catalog.db", "SQLite recording catalog (empty to scan files only)")
	cmd.Flags().IntVar(&bitrate, "bitrate", 0, "Bitrate of the re-encoding fallback in bits per second (0 uses the encoder default)")
	cmd.Flags().StringVar(&encoder, "encoder", ffmpeg.SoftwareEncoder, "Encoder of the re-encoding fallback")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}
