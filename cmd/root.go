package cmd

import (
	"log"
	"os"

	"github.com/cretz/teleworker/internal/sandbox"
	"github.com/spf13/cobra"
)

// Execute runs the command using program args and exits on failure.
//
// The sandbox's hidden re-exec subcommand (internal/sandbox's ChildExecArg)
// is intercepted here, before cobra ever parses argv, for the same reason
// the teacher intercepts its "child-exec" subcommand in Execute: the
// payload argument can contain arbitrary bytes that must reach ChildMain
// untouched, not be treated as cobra flags.
func Execute() {
	if len(os.Args) > 2 && os.Args[1] == sandbox.ChildExecArg {
		if err := sandbox.ChildMain(os.Args[2]); err != nil {
			log.Fatalf("child exec failed: %v", err)
		}
		return
	}
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teleworker",
		Short: "Multi-language code execution service",
	}
	cmd.AddCommand(serveCmd(), genCertCmd(), diagCmd(), runCmd(), getCmd(), stopCmd(), statsCmd())
	return cmd
}
