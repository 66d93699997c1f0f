package cmd

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanities/hytale-server-manager-sub001/internal/fleet"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage servers",
}

var createName, createAddress, createVersion, createExec, createArgs string
var createPort, createMaxPlayers, createMemory int

var serverCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new server",
	Run: func(cmd *cobra.Command, args []string) {
		handleServerCreate()
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all servers",
	Run: func(cmd *cobra.Command, args []string) {
		handleServerList()
	},
}

var serverStartCmd = &cobra.Command{
	Use:   "start [id]",
	Short: "Start a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Fleet.Start(args[0]); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
		fmt.Printf("Server %s starting\n", args[0])
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop [id]",
	Short: "Stop a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Fleet.Stop(args[0]); err != nil {
			log.Fatalf("Error stopping server: %v", err)
		}
		fmt.Printf("Server %s stopped\n", args[0])
	},
}

var serverRestartCmd = &cobra.Command{
	Use:   "restart [id]",
	Short: "Restart a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Fleet.Restart(args[0]); err != nil {
			log.Fatalf("Error restarting server: %v", err)
		}
		fmt.Printf("Server %s restarted\n", args[0])
	},
}

var serverKillCmd = &cobra.Command{
	Use:   "kill [id]",
	Short: "Force-kill a server process",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Fleet.Kill(args[0]); err != nil {
			log.Fatalf("Error killing server: %v", err)
		}
		fmt.Printf("Server %s killed\n", args[0])
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show live server status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleServerStatus(args[0])
	},
}

var serverMetricsCmd = &cobra.Command{
	Use:   "metrics [id]",
	Short: "Sample server CPU and memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleServerMetrics(args[0])
	},
}

var serverCommandCmd = &cobra.Command{
	Use:   "command [id] [text...]",
	Short: "Send a console command to a server",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		handleServerCommand(args[0], strings.Join(args[1:], " "))
	},
}

var serverDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Fleet.DeleteServer(args[0]); err != nil {
			log.Fatalf("Error deleting server: %v", err)
		}
		fmt.Printf("Server %s deleted\n", args[0])
	},
}

var serverLogsCmd = &cobra.Command{
	Use:   "logs [id]",
	Short: "View server logs and console",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		RunLogs(args[0])
	},
}

func init() {
	serverCreateCmd.Flags().StringVar(&createName, "name", "", "Server name")
	serverCreateCmd.Flags().StringVar(&createAddress, "address", "0.0.0.0", "Bind address")
	serverCreateCmd.Flags().IntVar(&createPort, "port", 5520, "Game port")
	serverCreateCmd.Flags().IntVar(&createMaxPlayers, "max-players", 20, "Player capacity")
	serverCreateCmd.Flags().StringVar(&createVersion, "version", "", "Server version")
	serverCreateCmd.Flags().StringVar(&createExec, "exec", "", "Path to the server executable")
	serverCreateCmd.Flags().StringVar(&createArgs, "args", "", "Extra launch arguments, space separated")
	serverCreateCmd.Flags().IntVar(&createMemory, "memory", 0, "Memory limit in MB")
	serverCreateCmd.MarkFlagRequired("name")
	serverCreateCmd.MarkFlagRequired("exec")

	serverCmd.AddCommand(serverCreateCmd, serverListCmd, serverStartCmd, serverStopCmd,
		serverRestartCmd, serverKillCmd, serverStatusCmd, serverMetricsCmd,
		serverCommandCmd, serverDeleteCmd, serverLogsCmd)
	RootCmd.AddCommand(serverCmd)
}

func handleServerCreate() {
	var args []string
	if createArgs != "" {
		args = strings.Fields(createArgs)
	}
	srv, err := Container.Fleet.CreateServer(fleet.CreateParams{
		Name:       createName,
		Address:    createAddress,
		Port:       createPort,
		MaxPlayers: createMaxPlayers,
		Version:    createVersion,
		Executable: createExec,
		Args:       args,
		MemoryMB:   createMemory,
	})
	if err != nil {
		log.Fatalf("Error creating server: %v", err)
	}
	fmt.Printf("Server created: %s (%s)\n", srv.Name, srv.ID)
	fmt.Printf("Data directory: %s\n", srv.DataDir)
}

func handleServerList() {
	servers, err := Container.Fleet.ListServers()
	if err != nil {
		log.Fatalf("Error listing servers: %v", err)
	}
	if len(servers) == 0 {
		fmt.Println("No servers configured.")
		return
	}
	fmt.Println("\n--- SERVERS ---")
	for _, s := range servers {
		fmt.Printf("%-36s  %-20s  %-8s  port %d\n", s.ID, s.Name, s.Status, s.Port)
	}
}

func handleServerStatus(id string) {
	snap, err := Container.Fleet.Status(id)
	if err != nil {
		log.Fatalf("Error getting status: %v", err)
	}
	fmt.Printf("Status:  %s\n", snap.Status)
	if snap.PID > 0 {
		fmt.Printf("PID:     %d\n", snap.PID)
		fmt.Printf("Uptime:  %s\n", snap.Uptime.Round(time.Second))
	}
	fmt.Printf("Players: %d\n", snap.Players)
	fmt.Printf("Console: connected=%v\n", snap.ConsoleConnected)
}

func handleServerMetrics(id string) {
	m, err := Container.Fleet.Metrics(id)
	if err != nil {
		log.Fatalf("Error sampling metrics: %v", err)
	}
	fmt.Printf("CPU:     %.1f%%\n", m.CPUPercent)
	fmt.Printf("Memory:  %d MB\n", m.MemoryBytes/(1<<20))
	fmt.Printf("Players: %d / %d\n", m.Players, m.MaxPlayers)
	fmt.Printf("Ticks:   %.1f\n", m.TickRate)
}

func handleServerCommand(id, text string) {
	res, err := Container.Fleet.SendCommand(id, text)
	if err != nil {
		log.Fatalf("Error sending command: %v", err)
	}
	if !res.Success {
		log.Fatalf("Command not delivered: %s", res.Message)
	}
	if res.Response != "" {
		fmt.Println(res.Response)
	} else {
		fmt.Println("Command sent.")
	}
}
