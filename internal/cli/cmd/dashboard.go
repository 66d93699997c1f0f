package cmd

import (
	"github.com/vanities/hytale-server-manager-sub001/internal/cli/ui"
)

// RunDashboard loops between the fleet dashboard and per-server console
// views until the operator quits.
func RunDashboard() {
	for {
		serverID := ui.RunDashboard(Container)
		if serverID == "" {
			return
		}
		if !ui.RunLogs(Container, serverID) {
			return
		}
	}
}

// RunLogs opens the console view for one server, then returns to the
// dashboard loop if the operator backs out.
func RunLogs(serverID string) {
	if ui.RunLogs(Container, serverID) {
		RunDashboard()
	}
}
