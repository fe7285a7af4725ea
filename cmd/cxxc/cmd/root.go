package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// targetInfo describes one supported target tuple: the object format,
// mangling schema, and exception-handling model the back end selects.
type targetInfo struct {
	Tuple    string
	Format   string
	Mangling string
	EH       string
}

// supportedTargets is the ABI matrix the compiler implements. Commands
// validate their --target flag against it and `version` prints it.
var supportedTargets = []targetInfo{
	{
		Tuple:    "x86_64-pc-windows-msvc",
		Format:   "COFF",
		Mangling: "MSVC",
		EH:       "__CxxFrameHandler3 (PDATA/XDATA) + SEH scope tables",
	},
	{
		Tuple:    "x86_64-linux-gnu",
		Format:   "ELF",
		Mangling: "Itanium",
		EH:       "__gxx_personality_v0 (.eh_frame + LSDA)",
	},
}

// checkTarget validates a --target value; unknown tuples still compile
// when they name a windows/linux flavor, anything else is rejected.
func checkTarget(tuple string) error {
	for _, t := range supportedTargets {
		if t.Tuple == tuple {
			return nil
		}
	}
	if strings.Contains(tuple, "windows") || strings.Contains(tuple, "msvc") ||
		strings.Contains(tuple, "linux") || strings.Contains(tuple, "gnu") {
		return nil
	}
	return fmt.Errorf("unsupported target %q (see `cxxc version` for the ABI matrix)", tuple)
}

var rootCmd = &cobra.Command{
	Use:   "cxxc",
	Short: "C++ compiler front end and x86-64 back end",
	Long: `go-cxx compiles a subset of modern C++ (roughly C++20) to
relocatable x86-64 object files.

Supported surface:
  - Templates with partial specialization and requires-clauses
  - Lambdas with captures and generic parameters
  - Inheritance with virtual dispatch and RTTI
  - C++ exception handling and Windows __try/__except/__finally
  - Operator overloading, nested types, type-trait intrinsics

The target tuple selects the whole ABI: object format, calling
convention, mangling schema, and exception-handling metadata. Run
` + "`cxxc version`" + ` for the supported target matrix.`,
	Version: Version,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(`{{with .Name}}{{printf "%%s " .}}{{end}}{{printf "version %%s" .Version}}
Commit: %s
Built:  %s
`, GitCommit, BuildDate))

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

func exitWithError(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}
