package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/m4xw311/spark/config"
	"github.com/m4xw311/spark/errors"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration",
	}

	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return errors.Wrapf(err, "locating home directory")
				}
				path = filepath.Join(home, config.DirName, config.FileName)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New("%s already exists, use --force to overwrite", path)
			}

			cfg := config.Default()
			if err := cfg.Save(path); err != nil {
				return err
			}
			ws := cfg.WorkspacePath()
			if err := os.MkdirAll(filepath.Join(ws, "memory"), 0o755); err != nil {
				return errors.Wrapf(err, "creating workspace")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nWorkspace: %s\n", path, ws)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "where to write the config (default: ~/.spark/config.yaml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			// Never echo secrets.
			if cfg.Tools.WebSearch.APIKey != "" {
				cfg.Tools.WebSearch.APIKey = "********"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrapf(err, "encoding config")
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
