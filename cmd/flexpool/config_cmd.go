package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-i2p/flexpool/lib/config"
	apperrors "github.com/go-i2p/flexpool/lib/errors"
)

func writeDefaultConfig(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return apperrors.Wrap(apperrors.CodeConfiguration, "refusing to overwrite "+path,
			fmt.Errorf("%w: file exists, use --force", apperrors.ErrConfiguration))
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return err
	}
	log.WithField("path", path).Info("wrote default configuration")
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
