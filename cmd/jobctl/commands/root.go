// Package commands implements jobctl, the command line client for the
// transcription job API.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-transcribe/internal/http/client"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagToken         = "token"
	flagOutput        = "output"
)

// environment variable names
const (
	envServerAddress = "JOBCTL_SERVER_ADDRESS"
	envToken         = "JOBCTL_TOKEN"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// cli holds the state shared by every subcommand of one root command.
type cli struct {
	serverAddress string
	token         string
	output        string
	api           client.Client
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "jobctl - submit and track transcription jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.serverAddress, flagServerAddress, "s", client.DefaultBaseURL, "Address of the transcription API (env: "+envServerAddress+")")
	root.PersistentFlags().StringVarP(&c.token, flagToken, "t", "", "Bearer token (env: "+envToken+")")
	root.PersistentFlags().StringVarP(&c.output, flagOutput, "o", outputJSON, "Output format: json or yaml")

	root.AddCommand(
		c.healthCmd(),
		c.submitCmd(),
		c.statusCmd(),
		c.lookupCmd(),
		c.waitCmd(),
		c.cancelCmd(),
		c.artifactURLCmd(),
		c.listCmd(),
		c.watchCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	// Flag > env var > default.
	if !cmd.Flags().Changed(flagServerAddress) {
		if v := strings.TrimSpace(os.Getenv(envServerAddress)); v != "" {
			c.serverAddress = v
		}
	}
	if !cmd.Flags().Changed(flagToken) {
		if v := strings.TrimSpace(os.Getenv(envToken)); v != "" {
			c.token = v
		}
	}

	c.output = strings.ToLower(strings.TrimSpace(c.output))
	switch c.output {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("invalid --%s %q (allowed: %s, %s)", flagOutput, c.output, outputJSON, outputYAML)
	}

	if c.serverAddress == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	api, err := client.NewClient(&client.Options{
		BaseURL: c.serverAddress,
		Timeout: client.DefaultTimeout,
		Token:   c.token,
	})
	if err != nil {
		return err
	}
	c.api = api
	return nil
}
