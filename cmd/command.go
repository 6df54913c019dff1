package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/nats"
)

// CreateCommandCmd creates the command subcommand, which sends one control
// command to a running camkeeper over NATS and prints the response.
func CreateCommandCmd() *cobra.Command {
	var url, thing string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "command <name> [value]",
		Short: "Send a control command over NATS",
		Long: `Sends a command such as "set_fps 15" or "session_start" to a running camkeeper
and prints its JSON response. A value that is not valid JSON is sent as a string.`,
		Example: `  camkeeper command set_fps 15
  camkeeper command set_roi '[0, 0, 320, 240]'
  camkeeper command status`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if thing == "" {
				thing = (&Options{}).ThingName()
			}
			req := control.Request{
				RequestID: uuid.NewString(),
				Command:   args[0],
				Source:    "cli",
			}
			if len(args) == 2 {
				req.Value = commandValue(args[1])
			}

			client, err := nats.Dial(url)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			resp, err := client.Send(ctx, thing, req)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !resp.OK() {
				return fmt.Errorf("%s: %s", resp.Command, resp.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "nats", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().StringVar(&thing, "thing", "", "Device name (defaults to the host name)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Time to wait for the response")
	return cmd
}

// commandValue passes JSON through and quotes anything else.
func commandValue(arg string) json.RawMessage {
	arg = strings.TrimSpace(arg)
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}
