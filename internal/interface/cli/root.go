package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	"github.com/YoshitsuguKoike/remloop/internal/app/config"
	infraConfig "github.com/YoshitsuguKoike/remloop/internal/infrastructure/config"
	"github.com/YoshitsuguKoike/remloop/internal/infrastructure/di"
)

// globalConfig holds the loaded configuration for all commands
var globalConfig config.Config

func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remloop",
		Short: "Remediation loop control plane",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration before any command runs
			// Priority: remloop.yaml > ENV > defaults
			baseDir := ".remloop"
			if home := os.Getenv("REMLOOP_HOME"); home != "" {
				baseDir = home
			}

			cfg, err := infraConfig.LoadSettings(baseDir)
			if err != nil {
				return err
			}
			globalConfig = cfg
			app.SetLogger(app.NewStderrLogger(cfg.StderrLevel()))
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newLockCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// initializeContainer builds the DI container from the loaded config
func initializeContainer() (*di.Container, error) {
	return di.NewContainer(globalConfig)
}
