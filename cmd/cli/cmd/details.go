package cmd

import (
	"fmt"
	"strings"

	"flowplane/pkg/api"

	"github.com/spf13/cobra"
)

var detailsCmd = &cobra.Command{
	Use:   "details [service_id]",
	Short: "Show the steps and audit log of a workflow instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		details, err := client().InstanceDetails(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printDetails(cmd, args[0], details)
	},
}

func printDetails(cmd *cobra.Command, serviceID string, d *api.WorkflowInstanceDetails) {
	cmd.Println(titleStyle.Render(fmt.Sprintf("%s for %s", d.Workflow.Name, serviceID)))
	cmd.Println("──────────────────────────────")

	for _, s := range d.ExecutionSteps {
		kind := "node"
		if s.Type == "EDGE" {
			kind = "edge"
		}
		name := s.Name
		if name == "" {
			name = s.ID
		}
		cmd.Println(cell(colorizeStatus(s.Status), 26) + cell(name, 30) + dimStyle.Render(kind))
	}

	if len(d.ExecutionLogs) == 0 {
		return
	}
	cmd.Println()
	cmd.Println(titleStyle.Render("Log"))
	for _, l := range d.ExecutionLogs {
		line := fmt.Sprintf("%s %s %s",
			dimStyle.Render(l.Timestamp.Format("15:04:05")),
			cell(l.Level, 8),
			l.Message,
		)
		if l.PerformedBy != "" {
			line += dimStyle.Render(" by " + l.PerformedBy)
		}
		cmd.Println(line)
	}
}

var executorsCmd = &cobra.Command{
	Use:   "executors [service_id]",
	Short: "List the raw executor records of a service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		execs, err := client().Executors(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Println(titleStyle.Render(cell("ID", 38) + cell("TYPE", 6) + cell("CHILD", 16) + "STATUS"))
		for _, x := range execs {
			line := cell(x.ID, 38) + cell(x.Type, 6) + cell(x.ChildrenID, 16) + colorizeStatus(x.Status)
			if x.ErrorCode != "" {
				line += " " + dimStyle.Render(strings.TrimSpace(x.ErrorCode+": "+x.ErrorMessage))
			}
			cmd.Println(line)
		}
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count workflow instances by state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sum, err := client().Summary()
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Println(boxStyle.Render(strings.Join([]string{
			field("Total", fmt.Sprint(sum.Total)),
			field("Running", fmt.Sprint(sum.Running)),
			field("Completed", fmt.Sprint(sum.Completed)),
			field("Awaiting", fmt.Sprint(sum.PendingApproval)),
		}, "\n")))
	},
}

func init() {
	rootCmd.AddCommand(detailsCmd, executorsCmd, summaryCmd)
}
