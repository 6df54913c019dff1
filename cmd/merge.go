package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/ffmpeg"
	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/recorder"
)

// CreateMergeCmd creates the merge command for operator recovery: merge
// every session found in a directory, or one session given as files.
func CreateMergeCmd() *cobra.Command {
	var bitrate int
	var encoder string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "merge <dir | segment files...>",
		Short: "Merge recorded segments into one file per session",
		Long: `Merges the segments of every session found in a directory, or the given
segment files as one session. Inputs are removed only after a successful merge.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initCLILogging(logJSON)
			jobs, err := jobsFromArgs(args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJobs(ctx, cmd.OutOrStdout(), newEngine(bitrate, encoder), jobs, nil)
		},
	}

	cmd.Flags().IntVar(&bitrate, "bitrate", 0, "Bitrate of the re-encoding fallback in bits per second (0 uses the encoder default)")
	cmd.Flags().StringVar(&encoder, "encoder", ffmpeg.SoftwareEncoder, "Encoder of the re-encoding fallback")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	return cmd
}

// jobsFromArgs builds one job per session of a directory, or one job from
// segment files of a single session.
func jobsFromArgs(args []string) ([]merge.Job, error) {
	if len(args) == 1 {
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			groups, err := merge.Scan(args[0])
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(groups))
			for id := range groups {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			jobs := make([]merge.Job, 0, len(ids))
			for _, id := range ids {
				jobs = append(jobs, merge.NewJob(id, groups[id]))
			}
			if len(jobs) == 0 {
				return nil, fmt.Errorf("no segments in %s", args[0])
			}
			return jobs, nil
		}
	}

	var session string
	for _, path := range args {
		id, _, ok := recorder.ParseSegmentName(filepath.Base(path))
		if !ok {
			return nil, fmt.Errorf("%s is not a segment file", path)
		}
		if session != "" && id != session {
			return nil, fmt.Errorf("segments of sessions %s and %s cannot be merged together", session, id)
		}
		session = id
	}
	return []merge.Job{merge.NewJob(session, args)}, nil
}

func newEngine(bitrate int, encoder string) *merge.Engine {
	logger := logging.GetLogger("merge")
	runner := ffmpeg.NewProcessRunner(logger, logging.GetLogger("ffmpeg"))
	var opts []merge.Option
	if encoder != "" {
		opts = append(opts, merge.WithEncoder(ffmpeg.EncoderFor(encoder)))
	}
	if bitrate > 0 {
		opts = append(opts, merge.WithBitrate(bitrate))
	}
	return merge.NewEngine(runner, logger, opts...)
}

// runJobs merges jobs in order, recording outcomes in cat when set.
func runJobs(ctx context.Context, out io.Writer, merger merge.Merger, jobs []merge.Job, cat *catalog.Catalog) error {
	var errs []error
	for _, job := range jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := merger.Merge(ctx, job)
		outcome := catalog.Merge{ID: job.ID, SessionID: job.SessionID, Output: job.Output, FinishedAt: time.Now()}
		if err != nil {
			outcome.Error = err.Error()
			errs = append(errs, fmt.Errorf("session %s: %w", job.SessionID, err))
			fmt.Fprintf(out, "%s: failed: %v\n", job.SessionID, err)
		} else {
			outcome.Path, outcome.Inputs, outcome.Seconds = string(res.Path), res.Inputs, res.Elapsed.Seconds()
			fmt.Fprintf(out, "%s: %s (%d inputs, %.1fs, %s path)\n", job.SessionID, job.Output, res.Inputs, res.Duration, res.Path)
			for _, skipped := range res.Skipped {
				fmt.Fprintf(out, "%s: skipped unreadable %s\n", job.SessionID, skipped)
			}
		}
		if cat != nil {
			if cerr := cat.MergeFinished(context.WithoutCancel(ctx), outcome); cerr != nil {
				logging.GetLogger("merge").Warn("Recording merge in catalog failed", "session", job.SessionID, "error", cerr)
			}
		}
	}
	return errors.Join(errs...)
}

func initCLILogging(logJSON bool) {
	cfg := logging.Config{Level: "info", Format: "text"}
	if logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
