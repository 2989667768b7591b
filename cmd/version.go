package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/ethpandaops/chfs/cmd.Release=..."
//
//nolint:gochecknoglobals // Build-time variables for version info
var (
	Release   = "dev"
	GitCommit = "none"
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Release   string `json:"release"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func currentBuild() BuildInfo {
	return BuildInfo{
		Release:   Release,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("chfs %s (%s)", b.Release, b.GitCommit)
}

func printBuild(w io.Writer, b BuildInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(b)
	}

	_, err := fmt.Fprintf(w, "Version: %s\nCommit: %s\nGo: %s\nOS/Arch: %s\n",
		b.Release, b.GitCommit, b.GoVersion, b.Platform)

	return err
}

//nolint:gochecknoglobals // Cobra commands are typically global
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of chfs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			return err
		}

		return printBuild(cmd.OutOrStdout(), currentBuild(), asJSON)
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "print build information as JSON")
	rootCmd.AddCommand(versionCmd)
}
