package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) print(cmd *cobra.Command, v any) error {
	var (
		out []byte
		err error
	)
	switch c.output {
	case outputYAML:
		out, err = yaml.Marshal(v)
	default:
		out, err = json.MarshalIndent(v, "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
