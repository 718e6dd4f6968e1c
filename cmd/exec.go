package cmd

import (
	"fmt"
	"os"

	"waiting-client/config"
	"waiting-client/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags during build.
	Version = "dev"

	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "waitingctl",
	Short: "Live waiting list client",
	Long: `waitingctl joins, watches and cancels a place in a restaurant's live
waiting list, and gives store owners a polled view of their queue.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("WAITING_CONFIG", configPath); err != nil {
				return err
			}
		}

		c, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logging.Init(logging.Config{
			Level:      c.LogLevel,
			JSONOutput: c.LogJSON,
			Output:     os.Stderr,
		})
		cfg = c
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides WAITING_CONFIG)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(ownerCmd)
}
