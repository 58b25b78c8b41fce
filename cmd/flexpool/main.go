// flexpool drives load through an adaptive connection pool.
//
// Connections are acquired through a configured chain of strategies that
// retry, grow the pool into an overflow allowance, or throttle callers when
// the pool is exhausted.
//
// Usage:
//
//	flexpool run [flags]            Run a load test against the pool
//	flexpool config init [path]     Write the default configuration
//	flexpool version                Print version and exit
//
// Set DEBUG_I2P=debug for verbose logging.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"

	apperrors "github.com/go-i2p/flexpool/lib/errors"
	"github.com/go-i2p/flexpool/version"
)

var log = logger.GetGoI2PLogger()

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the CLI and maps failures to an exit status.
func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		coded := apperrors.FromError(err)
		fmt.Fprintf(os.Stderr, "flexpool: %v\n", coded)
		return coded.Code
	}
	return 0
}

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".flexpool", "config.toml")
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "flexpool",
		Short: "Adaptive connection pool load driver",
		Long: `flexpool acquires connections through a chain of strategies that retry,
grow the pool into an overflow allowance or throttle callers when the pool
is exhausted, and reports how the chain behaved under load.`,
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "configuration file (TOML or YAML)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newConfigCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flexpool version %s\n", version.Full())
		},
	}
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if len(args) == 1 {
				path = args[0]
			}
			return writeDefaultConfig(cmd, path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
