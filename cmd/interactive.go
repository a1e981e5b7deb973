package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/uivet/uivet/internal/config"
	"github.com/uivet/uivet/internal/report"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/pkg/interactive"
)

var interactiveAddr string

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Launch interactive menu mode",
	Long:  `Launches an interactive menu for building test specs, enqueueing them, and inspecting engine state.`,
	Run: func(_ *cobra.Command, _ []string) {
		runInteractiveMenu()
	},
}

func init() {
	interactiveCmd.Flags().StringVar(&interactiveAddr, "addr", "localhost:8080", "address of the uivet server")
	rootCmd.AddCommand(interactiveCmd)
}

func runInteractiveMenu() {
	fmt.Println("uivet - Interactive Mode")
	fmt.Println("========================")
	fmt.Println()

	for {
		options := []interactive.MenuOption{
			{
				Name:        "Show Config",
				Description: "Display current environment configuration",
				Action: func() error {
					cfg, err := config.Load()
					if err != nil {
						fmt.Printf("\n❌ Error: %v\n", err)
						interactive.PauseForEnter()
						return nil
					}

					fmt.Println(cfg.String())
					interactive.PauseForEnter()
					return nil
				},
			},
			{
				Name:        "Enqueue Test",
				Description: "Build a test spec and submit it to the server",
				Action: func() error {
					test, err := interactive.BuildTest()
					if err != nil {
						if errors.Is(err, interactive.ErrExit) {
							fmt.Println("Canceled.")
							return nil
						}

						fmt.Printf("\n❌ Error: %v\n", err)
						interactive.PauseForEnter()
						return nil
					}

					if err := test.Validate(); err != nil {
						fmt.Printf("\n❌ Invalid test spec: %v\n", err)
						interactive.PauseForEnter()
						return nil
					}

					client := newAPIClient(interactiveAddr)

					id, err := client.queueTest(context.Background(), test)
					if err != nil {
						fmt.Printf("\n❌ Error: %v\n", err)
						interactive.PauseForEnter()
						return nil
					}

					fmt.Printf("\n✅ Test '%s' enqueued with id %s\n", test.Name, id)
					interactive.PauseForEnter()
					return nil
				},
			},
			{
				Name:        "Show State",
				Description: "Fetch and display the engine state snapshot",
				Action: func() error {
					client := newAPIClient(interactiveAddr)

					raw, err := client.fetchState(context.Background())
					if err != nil {
						fmt.Printf("\n❌ Error: %v\n", err)
						interactive.PauseForEnter()
						return nil
					}

					var snap state.Snapshot
					if err := json.Unmarshal(raw, &snap); err != nil {
						fmt.Printf("\n❌ Error: %v\n", err)
						interactive.PauseForEnter()
						return nil
					}

					fmt.Println(report.NewFormatter(Logger).Format(&snap))
					interactive.PauseForEnter()
					return nil
				},
			},
		}

		if err := interactive.ShowMenu(options); err != nil {
			if errors.Is(err, interactive.ErrExit) {
				fmt.Println("Goodbye!")
				return
			}
			log.Fatal(err)
		}

		fmt.Println()
	}
}
