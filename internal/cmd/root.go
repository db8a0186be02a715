// Package cmd assembles the tuid cobra command tree: serve (run the
// daemon), status (query a running daemon over its socket), and
// version. Grounded on the teacher's internal/cmd/root.go shape (one
// newXxxCmd() constructor per subcommand); the root command has no
// PersistentPreRunE hook.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tuid",
		Short: "TUI-driving automation daemon",
		Long:  "tuid hosts PTY-backed terminal sessions and exposes them over a JSON-RPC socket for scripted keystroke-level automation.",
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
