package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information and the supported target matrix",
	Long: `Display the compiler version plus the ABI matrix: for each
supported target tuple, the object format, mangling schema, and
exception-handling model the back end emits.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cxxc version %s (commit %s, built %s)\n\n", Version, GitCommit, BuildDate)
		fmt.Println("Supported targets:")
		for _, t := range supportedTargets {
			fmt.Printf("  %-24s %-5s %-8s %s\n", t.Tuple, t.Format, t.Mangling, t.EH)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
