package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/pkg/interactive"
)

var (
	enqueueFile        string
	enqueueInteractive bool
	enqueueAddr        string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a test spec to a running server",
	Long: `Submit a UI test spec for execution.

The spec comes either from a YAML/JSON file (--file) or from interactive
prompts (--interactive). It is validated locally before submission, so a
malformed spec fails fast without a server round trip.

Examples:
  uivet enqueue --file checkout.yaml
  uivet enqueue --interactive
  uivet enqueue --file smoke.json --addr staging.internal:8080`,
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueFile, "file", "f", "", "Path to a YAML or JSON test spec")
	enqueueCmd.Flags().BoolVarP(&enqueueInteractive, "interactive", "i", false, "Build the spec from prompts")
	enqueueCmd.Flags().StringVar(&enqueueAddr, "addr", "localhost:8080", "Address of the running server")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(_ *cobra.Command, _ []string) error {
	var (
		test *spec.Test
		err  error
	)

	switch {
	case enqueueInteractive:
		test, err = interactive.BuildTest()
		if err != nil {
			if errors.Is(err, interactive.ErrExit) {
				fmt.Println("Canceled.")
				return nil
			}

			return fmt.Errorf("building test spec: %w", err)
		}
	case enqueueFile != "":
		test, err = spec.ParseFile(enqueueFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", enqueueFile, err)
		}
	default:
		return errors.New("either --file or --interactive is required")
	}

	if err := test.Validate(); err != nil {
		return fmt.Errorf("invalid test spec: %w", err)
	}

	client := newAPIClient(enqueueAddr)

	id, err := client.queueTest(context.Background(), test)
	if err != nil {
		return err
	}

	fmt.Printf("\n✅ Test '%s' enqueued with id %s\n", test.Name, id)
	return nil
}
