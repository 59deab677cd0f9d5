package cmd

import (
	"fmt"
	"os"

	"flowplane/pkg/api"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflow definitions",
}

var workflowApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Upload a workflow definition",
	Long: `Upload a workflow definition from a YAML (or JSON) file.

Example:
  flowctl workflow apply -f release.yaml

A minimal definition:
  id: release
  name: Release
  nodes:
    - id: build
      data: {stageName: Build, parameters: {command: make}}
    - id: deploy
      data: {stageName: Deploy}
  edges:
    - id: gate
      source: build
      target: deploy
      data: {requiresApproval: true, approverRole: RELEASE_MANAGER}`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			cmd.Println("Error: --file is required")
			return
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		var wf api.Workflow
		if err := yaml.Unmarshal(raw, &wf); err != nil {
			cmd.Printf("Error: invalid definition %s: %v\n", file, err)
			return
		}

		result, err := client().CreateWorkflow(wf)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Workflow created!\nID: %s\nName: %s\nNodes: %d  Edges: %d\n",
			result.ID, result.Name, len(result.Nodes), len(result.Edges))
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow definitions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		workflows, err := client().ListWorkflows()
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(workflows) == 0 {
			cmd.Println("No workflows defined.")
			return
		}

		cmd.Println(titleStyle.Render(cell("ID", 38) + cell("NAME", 30) + cell("NODES", 7) + "EDGES"))
		for _, wf := range workflows {
			cmd.Println(cell(wf.ID, 38) + cell(wf.Name, 30) + cell(fmt.Sprint(len(wf.Nodes)), 7) + fmt.Sprint(len(wf.Edges)))
		}
	},
}

var workflowGetCmd = &cobra.Command{
	Use:   "get [workflow_id]",
	Short: "Print a workflow definition as YAML",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		wf, err := client().GetWorkflow(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}

		out, err := yaml.Marshal(wf)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Print(string(out))
	},
}

var workflowDeleteCmd = &cobra.Command{
	Use:   "delete [workflow_id]",
	Short: "Delete a workflow definition",
	Long:  `Delete a workflow definition. Executors and execution logs of past instances are kept.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := client().DeleteWorkflow(args[0]); err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Workflow %s deleted\n", args[0])
	},
}

func init() {
	workflowApplyCmd.Flags().StringP("file", "f", "", "Definition file (required)")

	workflowCmd.AddCommand(workflowApplyCmd, workflowListCmd, workflowGetCmd, workflowDeleteCmd)
	rootCmd.AddCommand(workflowCmd)
}
