package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/babelcloud/camcast/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the 'version' command
func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			if outputFormat == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:     %s\n", info["Version"])
			fmt.Fprintf(out, "Git commit:  %s\n", info["GitCommit"])
			fmt.Fprintf(out, "Built:       %s\n", info["FormattedTime"])
			fmt.Fprintf(out, "Go version:  %s\n", info["GoVersion"])
			fmt.Fprintf(out, "OS/Arch:     %s/%s\n", info["OS"], info["Arch"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text or json)")
	return cmd
}
