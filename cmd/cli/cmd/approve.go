package cmd

import (
	"flowplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// decisionCmd builds the approve and reject commands, which differ only in
// the decision they send.
func decisionCmd(approve bool) *cobra.Command {
	use, short := "reject [executor_id]", "Reject an edge waiting for approval"
	if approve {
		use, short = "approve [executor_id]", "Approve an edge waiting for approval"
	}

	c := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Approving completes the edge and starts its target step. Rejecting ends the
edge; its target step is not started. Executors that are not waiting for
approval are left untouched.

The engine variant must be named with --type (or FLOWPLANE_TYPE); the
controller does not pick a default for decisions.

Find executor ids with: flowctl pending`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			by, _ := cmd.Flags().GetString("by")
			comment, _ := cmd.Flags().GetString("comment")

			if by == "" {
				cmd.Println("Error: --by is required")
				return
			}
			typ := viper.GetString("type")
			if typ == "" {
				cmd.Println("Error: --type is required")
				return
			}

			result, err := client().Decide(args[0], approve, api.ApprovalRequest{
				Type:       typ,
				ApprovedBy: by,
				Comments:   comment,
			})
			if err != nil {
				printError(cmd, err)
				return
			}
			cmd.Printf("✓ %s\n", result.Message)
		},
	}

	c.Flags().String("by", "", "User making the decision (required)")
	c.Flags().StringP("comment", "m", "", "Comment recorded with the decision")
	return c
}

var (
	approveCmd = decisionCmd(true)
	rejectCmd  = decisionCmd(false)
)

func init() {
	rootCmd.AddCommand(approveCmd, rejectCmd)
}
