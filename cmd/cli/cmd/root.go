package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Flowctl is a command line tool for interacting with the flowplane workflow engine",
	Long: `flowctl is the command-line interface for the flowplane workflow engine.

Flowplane runs workflow definitions: graphs of business steps (nodes) joined by
transitions (edges) that may wait for a human approval. Each run of a workflow
for a business service is an instance.

Common workflows:

  Upload a workflow definition:
    flowctl workflow apply -f release.yaml

  Start an instance for a service:
    flowctl initiate <workflow-id> --service svc-42 --name "Release 42"

  See what is waiting for approval, then decide:
    flowctl pending
    flowctl approve <executor-id> --by alice --comment "looks good"
    flowctl reject <executor-id> --by alice --comment "wrong window"

  Follow an instance:
    flowctl details svc-42

Configuration:
  Set the API endpoint via the --url flag, an environment variable or a config file:
    FLOWPLANE_URL    API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".flowctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".flowctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "FLOWPLANE_VARNAME"
	viper.SetEnvPrefix("FLOWPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// client builds a FlowClient for the configured controller.
func client() *FlowClient {
	return NewFlowClient(viper.GetString("url"))
}

// printError reports a failed API call on the command's output.
func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Flowplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().String("type", "", "Engine variant to use (initiate falls back to the controller's default; approve and reject require it)")
	viper.BindPFlag("type", rootCmd.PersistentFlags().Lookup("type"))
}
