package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/go-cxx/internal/driver"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	targetStr  string
	debugInfo  bool
	optLevel   int
)

var compileCmd = &cobra.Command{
	Use:   "compile [file]",
	Short: "Compile a C++ source file to an object file",
	Long: `Compile one translation unit to a relocatable object file.

The target tuple selects the object format, calling convention, mangling
schema, and exception-handling metadata: COFF/MSVC for *-windows-msvc,
ELF/Itanium for *-linux-gnu.

Examples:
  # Compile for the Windows ABI
  cxxc compile prog.cpp --target x86_64-pc-windows-msvc

  # Compile for Linux with debug info
  cxxc compile prog.cpp --target x86_64-linux-gnu -g -o prog.o`,
	Args: cobra.ExactArgs(1),
	RunE: compileFile,
}

func init() {
	compileCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output object path (default: source with .o/.obj)")
	compileCmd.Flags().StringVar(&targetStr, "target", "x86_64-linux-gnu", "target tuple")
	compileCmd.Flags().BoolVarP(&debugInfo, "debug", "g", false, "emit debug info")
	compileCmd.Flags().IntVarP(&optLevel, "opt", "O", 0, "optimization level (accepted and ignored)")
	rootCmd.AddCommand(compileCmd)
}

func compileFile(cmd *cobra.Command, args []string) error {
	path := args[0]
	if err := checkTarget(targetStr); err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		exitWithError("cannot read %s: %v", path, err)
	}

	sess := driver.NewSession(driver.Options{Target: targetStr, Debug: debugInfo})
	obj, cerr := sess.CompileSource(string(src), path)
	if cerr != nil {
		fmt.Fprintln(os.Stderr, cerr)
		return cerr
	}

	out := outputFile
	if out == "" {
		ext := ".o"
		if sess.Opts.IsWindows() {
			ext = ".obj"
		}
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ext
	}
	if err := os.WriteFile(out, obj, 0o644); err != nil {
		exitWithError("cannot write %s: %v", out, err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		fmt.Printf("wrote %s (%d bytes, %d functions)\n", out, len(obj), len(sess.Funcs))
	}
	return nil
}
