package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter ~/.twwplus/config.toml",
	Long:  "Initialize twwplus with a random bridge token and a file-backed draft store.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Server.AuthToken == "" {
			cfg.Server.AuthToken = uuid.NewString()
		}
		if cfg.Storage.DSN == "" {
			dir, err := configDir()
			if err != nil {
				return err
			}
			cfg.Storage.DSN = "file://" + filepath.Join(dir, "drafts.json")
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "Bridge token: %s\n", cfg.Server.AuthToken)
		return nil
	},
}
