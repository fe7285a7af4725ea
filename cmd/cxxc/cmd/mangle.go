package cmd

import (
	"fmt"
	"os"

	"github.com/cwbudde/go-cxx/internal/driver"
	"github.com/spf13/cobra"
)

var mangleTarget string

var mangleCmd = &cobra.Command{
	Use:   "mangle [file]",
	Short: "Print the mangled name of every function in a source file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			exitWithError("cannot read %s: %v", args[0], err)
		}
		sess := driver.NewSession(driver.Options{Target: mangleTarget})
		if _, cerr := sess.CompileSource(string(src), args[0]); cerr != nil {
			fmt.Fprintln(os.Stderr, cerr)
			return cerr
		}
		for _, f := range sess.Module.Functions {
			fmt.Printf("%-24s %s\n", sess.Table.Lookup(f.Name), sess.Table.Lookup(f.Mangled))
		}
		return nil
	},
}

func init() {
	mangleCmd.Flags().StringVar(&mangleTarget, "target", "x86_64-linux-gnu", "target tuple")
	rootCmd.AddCommand(mangleCmd)
}
