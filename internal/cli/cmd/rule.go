package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage automation rules",
}

var ruleListCmd = &cobra.Command{
	Use:   "list [server-id]",
	Short: "List a server's automation rules",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		handleRuleList(args[0])
	},
}

var ruleRunCmd = &cobra.Command{
	Use:   "run [rule-id]",
	Short: "Run a rule's actions now",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Scheduler.RunRule(args[0]); err != nil {
			log.Fatalf("Error running rule: %v", err)
		}
		fmt.Printf("Rule %s executed\n", args[0])
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete [rule-id]",
	Short: "Delete an automation rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := Container.Store.DeleteRule(args[0]); err != nil {
			log.Fatalf("Error deleting rule: %v", err)
		}
		fmt.Printf("Rule %s deleted\n", args[0])
	},
}

func init() {
	ruleCmd.AddCommand(ruleListCmd, ruleRunCmd, ruleDeleteCmd)
	RootCmd.AddCommand(ruleCmd)
}

func handleRuleList(serverID string) {
	rules, err := Container.Store.ListRules(serverID)
	if err != nil {
		log.Fatalf("Error listing rules: %v", err)
	}
	if len(rules) == 0 {
		fmt.Println("No rules configured.")
		return
	}
	fmt.Println("\n--- AUTOMATION RULES ---")
	for _, r := range rules {
		enabled := "enabled"
		if !r.Enabled {
			enabled = "disabled"
		}
		line := fmt.Sprintf("%-36s  %-20s  %-10s  %s", r.ID, r.Name, r.Trigger, enabled)
		if r.LastRunAt != nil {
			line += fmt.Sprintf("  last: %s (%s, %d runs)", r.LastRunAt.Format("2006-01-02 15:04"), r.LastStatus, r.Runs)
		}
		fmt.Println(line)
	}
}
