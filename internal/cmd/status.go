package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"tuid/internal/config"
)

// newStatusCmd dials the running daemon's socket and round-trips a
// "health" JSON-RPC request, printing the response as JSON. Grounded on
// the teacher's status.go (dial, send, read, print the JSON response).
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running tuid daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command) error {
	settings := config.FromEnv()

	conn, err := net.Dial("unix", settings.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to tuid daemon at %s: %w", settings.SocketPath, err)
	}
	defer conn.Close()

	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "health"}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(line, &pretty); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
