package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vanities/hytale-server-manager-sub001/internal/app"
	"github.com/vanities/hytale-server-manager-sub001/internal/config"
)

var (
	Container *app.Container
	ConfigDir string
)

var RootCmd = &cobra.Command{
	Use:   "hytale-manager",
	Short: "CLI for the Hytale server fleet manager",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		dir := ConfigDir
		if dir == "" {
			userConfigDir, err := os.UserConfigDir()
			if err != nil {
				log.Fatalf("Error getting user config directory: %v", err)
			}
			dir = filepath.Join(userConfigDir, "hytale-manager")
		}

		cfg, err := config.LoadConfig(dir)
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		for _, path := range []string{cfg.ServersPath, cfg.BackupsPath} {
			if err := os.MkdirAll(path, 0755); err != nil {
				log.Fatalf("Could not create directory '%s': %v", path, err)
			}
		}

		Container, err = app.Build(cfg)
		if err != nil {
			log.Fatalf("Error wiring manager: %v", err)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		RunDashboard()
	},
}

func Execute() {
	RootCmd.PersistentFlags().StringVar(&ConfigDir, "config-dir", "", "Configuration directory (defaults to the user config dir)")

	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
