package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vanities/hytale-server-manager-sub001/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage backups",
}

var backupName, backupExcludes string
var backupRemote bool

var backupCreateCmd = &cobra.Command{
	Use:   "create [server-id]",
	Short: "Back up a server's data directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleBackupCreate(args[0])
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list [server-id]",
	Short: "List a server's backups",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleBackupList(args[0])
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup-id]",
	Short: "Restore a backup into its server's data directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Backups.Restore(args[0]); err != nil {
			log.Fatalf("Error restoring backup: %v", err)
		}
		fmt.Printf("Backup %s restored\n", args[0])
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete [backup-id]",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Backups.Delete(args[0]); err != nil {
			log.Fatalf("Error deleting backup: %v", err)
		}
		fmt.Printf("Backup %s deleted\n", args[0])
	},
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "Archive name (defaults to the server name)")
	backupCreateCmd.Flags().StringVar(&backupExcludes, "exclude", "", "Comma-separated glob patterns to exclude")
	backupCreateCmd.Flags().BoolVar(&backupRemote, "remote", false, "Upload to remote storage")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd, backupDeleteCmd)
	RootCmd.AddCommand(backupCmd)
}

func handleBackupCreate(serverID string) {
	var excludes []string
	if backupExcludes != "" {
		excludes = strings.Split(backupExcludes, ",")
	}
	rec, err := Container.Backups.Create(serverID, backup.CreateOptions{
		Name:     backupName,
		Excludes: excludes,
		Remote:   backupRemote,
	})
	if err != nil {
		log.Fatalf("Error creating backup: %v", err)
	}
	fmt.Printf("Backup created: %s (%s)\n", rec.Name, rec.ID)
	fmt.Printf("Archived %d of %d files, %s\n", rec.FilesArchived, rec.FilesScanned, humanize.Bytes(uint64(rec.SizeBytes)))
	for _, s := range rec.Skipped {
		fmt.Printf("  skipped %s: %s\n", s.Path, s.Reason)
	}
}

func handleBackupList(serverID string) {
	backups, err := Container.Store.ListBackups(serverID)
	if err != nil {
		log.Fatalf("Error listing backups: %v", err)
	}
	if len(backups) == 0 {
		fmt.Println("No backups found.")
		return
	}
	fmt.Println("\n--- BACKUPS ---")
	for _, b := range backups {
		fmt.Printf("%-36s  %-10s  %-8s  %10s  %s\n",
			b.ID, b.Status, b.Storage, humanize.Bytes(uint64(b.SizeBytes)), b.Name)
	}
}
