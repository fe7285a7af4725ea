package cmd

import (
	"fmt"
	"os"

	"github.com/cwbudde/go-cxx/internal/driver"
	"github.com/cwbudde/go-cxx/internal/ir"
	"github.com/spf13/cobra"
)

var irTarget string

var irCmd = &cobra.Command{
	Use:   "ir [file]",
	Short: "Print the IR of every function in a source file",
	Long: `Compile the source and print each function's instruction stream.
Useful for inspecting lowering decisions; no object file is written.`,
	Args: cobra.ExactArgs(1),
	RunE: dumpIR,
}

func init() {
	irCmd.Flags().StringVar(&irTarget, "target", "x86_64-linux-gnu", "target tuple")
	rootCmd.AddCommand(irCmd)
}

func dumpIR(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		exitWithError("cannot read %s: %v", args[0], err)
	}
	sess := driver.NewSession(driver.Options{Target: irTarget})
	if _, cerr := sess.CompileSource(string(src), args[0]); cerr != nil {
		fmt.Fprintln(os.Stderr, cerr)
		return cerr
	}
	for _, f := range sess.Module.Functions {
		fmt.Print(ir.Disassemble(sess.Table, f))
		fmt.Println()
	}
	return nil
}
