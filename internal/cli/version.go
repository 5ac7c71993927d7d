package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionInfo is the JSON output of the version command.
type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// AddVersionCommand adds the version command to the root command.
func AddVersionCommand(root *cobra.Command, flags *GlobalFlags, info BuildInfo) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if flags.Output == OutputJSON {
				v := info
				if v.Version == "" {
					v.Version = "dev"
				}
				return writeJSON(w, versionInfo{Version: v.Version, Commit: v.Commit, Date: v.Date})
			}
			_, err := fmt.Fprintf(w, "conductor %s\n", formatVersion(info))
			return err
		},
	})
}
