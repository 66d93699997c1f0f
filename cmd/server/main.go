package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vanities/hytale-server-manager-sub001/internal/app"
	"github.com/vanities/hytale-server-manager-sub001/internal/config"
)

func main() {
	fmt.Println("Starting Hytale Server Manager daemon...")

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("Error getting user config directory: %v", err)
	}
	configDir := filepath.Join(userConfigDir, "hytale-manager")

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	fmt.Printf("Using database: %s\n", cfg.DatabasePath)
	fmt.Printf("Using servers directory: %s\n", cfg.ServersPath)
	fmt.Printf("Using backups directory: %s\n", cfg.BackupsPath)

	for _, path := range []string{cfg.ServersPath, cfg.BackupsPath} {
		if err := os.MkdirAll(path, 0755); err != nil {
			log.Fatalf("Fatal: Could not create directory '%s': %v", path, err)
		}
	}

	container, err := app.Build(cfg)
	if err != nil {
		log.Fatalf("Fatal: Could not build application: %v", err)
	}

	if err := container.Fleet.RecoverAll(); err != nil {
		log.Printf("Warning: process recovery incomplete: %v", err)
	}

	container.Scheduler.Run()
	fmt.Println("Manager running. Press Ctrl+C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("Shutting down: detaching from server processes...")
	container.Scheduler.Stop()
	container.Fleet.OrphanAll()
	fmt.Println("Done. Servers keep running and will be re-adopted on next start.")
}
