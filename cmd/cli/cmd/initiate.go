package cmd

import (
	"flowplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var initiateCmd = &cobra.Command{
	Use:   "initiate [workflow_id]",
	Short: "Start a workflow instance for a service",
	Long: `Start an instance of a workflow for a business service. Every start node
is dispatched; the instance then advances on its own until it reaches an edge
that waits for approval or every step has finished.

Example:
  flowctl initiate release --service svc-42 --name "Release 42"
  flowctl initiate release --service svc-42 --type task`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		service, _ := cmd.Flags().GetString("service")
		name, _ := cmd.Flags().GetString("name")

		if service == "" {
			cmd.Println("Error: --service is required")
			return
		}

		result, err := client().Initiate(args[0], api.InitiateRequest{
			Type:      viper.GetString("type"),
			ServiceID: service,
			Name:      name,
		})
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ %s\n", result.Message)
		cmd.Printf("Follow it with: flowctl details %s\n", service)
	},
}

func init() {
	flags := initiateCmd.Flags()
	flags.StringP("service", "s", "", "Service id the instance runs for (required)")
	flags.StringP("name", "n", "", "Display name for the instance")

	rootCmd.AddCommand(initiateCmd)
}
