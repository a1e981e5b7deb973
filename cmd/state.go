package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uivet/uivet/internal/report"
	"github.com/uivet/uivet/internal/state"
)

var (
	stateAddr string
	stateJSON bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Fetch a running server's state snapshot",
	Long: `Fetch the full state snapshot from a running server and render it as a
report: queue overview, session results with failure details, and the
rolling analytics summary. Use --json for the raw snapshot.

Examples:
  uivet state
  uivet state --json
  uivet state --addr staging.internal:8080`,
	RunE: func(_ *cobra.Command, _ []string) error {
		client := newAPIClient(stateAddr)

		raw, err := client.fetchState(context.Background())
		if err != nil {
			return err
		}

		if stateJSON {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				return fmt.Errorf("formatting snapshot: %w", err)
			}

			fmt.Println(pretty.String())
			return nil
		}

		var snap state.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("decoding snapshot: %w", err)
		}

		fmt.Println(report.NewFormatter(Logger).Format(&snap))
		return nil
	},
}

func init() {
	stateCmd.Flags().StringVar(&stateAddr, "addr", "localhost:8080", "Address of the running server")
	stateCmd.Flags().BoolVar(&stateJSON, "json", false, "Print the raw snapshot as indented JSON")
	rootCmd.AddCommand(stateCmd)
}
