package cmd

import (
	"fmt"
	"strings"

	"flowplane/pkg/api"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List edges waiting for approval",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		role, _ := cmd.Flags().GetString("role")

		pending, err := client().PendingApprovals()
		if err != nil {
			printError(cmd, err)
			return
		}

		if role != "" {
			filtered := pending[:0]
			for _, p := range pending {
				if strings.EqualFold(p.RequiredRole, role) {
					filtered = append(filtered, p)
				}
			}
			pending = filtered
		}

		if len(pending) == 0 {
			cmd.Println("Nothing is waiting for approval.")
			return
		}

		for _, p := range pending {
			printPending(cmd, p)
		}
		cmd.Println(dimStyle.Render(fmt.Sprintf("%d waiting", len(pending))))
	},
}

func printPending(cmd *cobra.Command, p api.PendingApprovalDetails) {
	lines := []string{
		titleStyle.Render(p.ActivityName),
		field("Executor", p.ID),
		field("Service", p.ServiceID+" "+dimStyle.Render(p.ServiceName)),
		field("Workflow", p.WorkflowName),
		field("Next stage", p.StageName),
		field("Role", p.RequiredRole),
		field("Requested", formatTimeWithRelative(p.RequestedAt)),
	}
	if p.ViewURL != "" {
		lines = append(lines, field("View", p.ViewURL))
	}
	cmd.Println(boxStyle.Render(strings.Join(lines, "\n")))
}

func init() {
	pendingCmd.Flags().String("role", "", "Only show approvals requiring this role")

	rootCmd.AddCommand(pendingCmd)
}
