package cmd

import (
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vanities/hytale-server-manager-sub001/internal/backup"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/network"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage server networks",
}

var netName, netDescription, netType, netStartOrder string

var networkCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a network",
	Run: func(cmd *cobra.Command, args []string) {
		n, err := Container.Network.CreateNetwork(network.CreateParams{
			Name:        netName,
			Description: netDescription,
			Type:        domain.NetworkType(netType),
			StartOrder:  domain.StartOrder(netStartOrder),
		})
		if err != nil {
			log.Fatalf("Error creating network: %v", err)
		}
		fmt.Printf("Network created: %s (%s)\n", n.Name, n.ID)
	},
}

var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List networks",
	Run: func(cmd *cobra.Command, args []string) {
		handleNetworkList()
	},
}

var memberRole string

var networkAddCmd = &cobra.Command{
	Use:   "add [network-id] [server-id]",
	Short: "Add a server to a network",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Network.AddMember(args[0], args[1], domain.Role(memberRole)); err != nil {
			log.Fatalf("Error adding member: %v", err)
		}
		fmt.Printf("Server %s added to network %s as %s\n", args[1], args[0], memberRole)
	},
}

var networkRemoveCmd = &cobra.Command{
	Use:   "remove [network-id] [server-id]",
	Short: "Remove a server from a network",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Network.RemoveMember(args[0], args[1]); err != nil {
			log.Fatalf("Error removing member: %v", err)
		}
		fmt.Printf("Server %s removed from network %s\n", args[1], args[0])
	},
}

var networkStartCmd = &cobra.Command{
	Use:   "start [network-id]",
	Short: "Start every member of a network",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := Container.Network.StartNetwork(args[0])
		if err != nil {
			log.Fatalf("Error starting network: %v", err)
		}
		printBulkResult("start", res)
	},
}

var networkStopCmd = &cobra.Command{
	Use:   "stop [network-id]",
	Short: "Stop every member of a network",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := Container.Network.StopNetwork(args[0])
		if err != nil {
			log.Fatalf("Error stopping network: %v", err)
		}
		printBulkResult("stop", res)
	},
}

var networkRestartCmd = &cobra.Command{
	Use:   "restart [network-id]",
	Short: "Restart every member of a network",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stop, start, err := Container.Network.RestartNetwork(args[0])
		if err != nil {
			log.Fatalf("Error restarting network: %v", err)
		}
		printBulkResult("stop", stop)
		printBulkResult("start", start)
	},
}

var networkStatusCmd = &cobra.Command{
	Use:   "status [network-id]",
	Short: "Show the network's composite status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleNetworkStatus(args[0])
	},
}

var networkMetricsCmd = &cobra.Command{
	Use:   "metrics [network-id]",
	Short: "Aggregate metrics across network members",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleNetworkMetrics(args[0])
	},
}

var networkBackupCmd = &cobra.Command{
	Use:   "backup [network-id]",
	Short: "Back up every member of a network",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		nb, backups, err := Container.Backups.CreateNetworkBackup(args[0], backup.CreateOptions{})
		if err != nil {
			log.Fatalf("Error creating network backup: %v", err)
		}
		fmt.Printf("Network backup %s: %s\n", nb.ID, nb.Status)
		for _, b := range backups {
			fmt.Printf("  %-36s  %-10s  %s\n", b.ServerID, b.Status, b.Name)
		}
	},
}

var networkDeleteCmd = &cobra.Command{
	Use:   "delete [network-id]",
	Short: "Delete a network (servers are kept)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Network.DeleteNetwork(args[0]); err != nil {
			log.Fatalf("Error deleting network: %v", err)
		}
		fmt.Printf("Network %s deleted\n", args[0])
	},
}

func init() {
	networkCreateCmd.Flags().StringVar(&netName, "name", "", "Network name")
	networkCreateCmd.Flags().StringVar(&netDescription, "description", "", "Description")
	networkCreateCmd.Flags().StringVar(&netType, "type", string(domain.NetworkUnordered), "Network type (unordered, proxied)")
	networkCreateCmd.Flags().StringVar(&netStartOrder, "start-order", "", "Start order for proxied networks (proxy_first, backends_first)")
	networkCreateCmd.MarkFlagRequired("name")

	networkAddCmd.Flags().StringVar(&memberRole, "role", string(domain.RoleMember), "Membership role (member, proxy, backend)")

	networkCmd.AddCommand(networkCreateCmd, networkListCmd, networkAddCmd, networkRemoveCmd,
		networkStartCmd, networkStopCmd, networkRestartCmd, networkStatusCmd,
		networkMetricsCmd, networkBackupCmd, networkDeleteCmd)
	RootCmd.AddCommand(networkCmd)
}

func printBulkResult(op string, res *domain.BulkResult) {
	outcome := "ok"
	if !res.Success {
		outcome = "partial failure"
	}
	fmt.Printf("Network %s: %s (%d members)\n", op, outcome, len(res.Members))
	for _, m := range res.Members {
		if m.Success {
			fmt.Printf("  %-36s  ok\n", m.ServerID)
		} else {
			fmt.Printf("  %-36s  failed: %s\n", m.ServerID, m.Error)
		}
	}
}

func handleNetworkList() {
	networks, err := Container.Network.ListNetworks()
	if err != nil {
		log.Fatalf("Error listing networks: %v", err)
	}
	if len(networks) == 0 {
		fmt.Println("No networks configured.")
		return
	}
	fmt.Println("\n--- NETWORKS ---")
	for _, n := range networks {
		line := fmt.Sprintf("%-36s  %-20s  %s", n.ID, n.Name, n.Type)
		if n.Type == domain.NetworkProxied {
			line += fmt.Sprintf(" (%s)", n.StartOrder)
		}
		fmt.Println(line)
	}
}

func handleNetworkStatus(id string) {
	st, err := Container.Network.NetworkStatus(id)
	if err != nil {
		log.Fatalf("Error getting network status: %v", err)
	}
	fmt.Printf("Network status: %s\n", st.Status)

	ids := make([]string, 0, len(st.Members))
	for sid := range st.Members {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	for _, sid := range ids {
		fmt.Printf("  %-36s  %s\n", sid, st.Members[sid])
	}
}

func handleNetworkMetrics(id string) {
	m, err := Container.Network.NetworkMetrics(id)
	if err != nil {
		log.Fatalf("Error aggregating metrics: %v", err)
	}
	fmt.Printf("Players:   %d\n", m.Players)
	fmt.Printf("Memory:    %d MB\n", m.MemoryBytes/(1<<20))
	fmt.Printf("CPU mean:  %.1f%%\n", m.CPUPercent)
	fmt.Printf("Tick mean: %.1f\n", m.TickRate)
}
