package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/camkeeper/internal/config"
)

// CreateValidateConfigCmd creates the validate-config command. It checks
// the process config file named by the root --config flag and the runtime
// settings snapshot, and exits non-zero when either has errors.
func CreateValidateConfigCmd() *cobra.Command {
	var settingsFile string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the config file and the settings snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			configFile, _ := cmd.Flags().GetString("config")
			if configFile == "" {
				configFile = "camkeeper.toml"
			}

			opts := &Options{Config: configFile}
			if err := config.LoadConfig(opts, nil); err != nil {
				return err
			}
			fmt.Fprintf(out, "config %s: ok (thing %s)\n", configFile, opts.ThingName())

			if settingsFile == "" {
				settingsFile = opts.SettingsFile
			}
			if settingsFile == "" {
				settingsFile = "settings.toml"
			}
			settings, fieldErrs, err := config.ReadSnapshot(settingsFile)
			if err != nil {
				return fmt.Errorf("settings %s: %w", settingsFile, err)
			}
			for _, ferr := range fieldErrs {
				fmt.Fprintf(out, "settings %s: %v\n", settingsFile, ferr)
			}
			if err := settings.Validate(); err != nil {
				fieldErrs = append(fieldErrs, err)
				fmt.Fprintf(out, "settings %s: %v\n", settingsFile, err)
			}
			if len(fieldErrs) > 0 {
				return fmt.Errorf("settings %s: %w", settingsFile, errors.Join(fieldErrs...))
			}
			fmt.Fprintf(out, "settings %s: ok (policy %s)\n", settingsFile, settings.Policy)
			return nil
		},
	}

	cmd.Flags().StringVar(&settingsFile, "settings", "", "Settings snapshot (defaults to storage.settings_file)")
	return cmd
}
