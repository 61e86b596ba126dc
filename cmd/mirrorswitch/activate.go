package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorswitch/internal/locator"
)

func newActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate REMOTE_URL",
		Short: "Activate a configured mirror",
		Long: `Load the catalog of the mirror with the given remote URL and persist it as
the active selection. The mirror must be enabled in the config file.`,
		Example: `  mirrorswitch activate https://cdn-b.example.com`,
		Args:    cobra.ExactArgs(1),
		RunE:    activateRun,
	}

	return cmd
}

func activateRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("locator service not initialized")
	}

	res := globalService.ActivateURL(cmd.Context(), args[0])
	if !res.Success {
		return fmt.Errorf("activation failed: %w", res.Err)
	}
	printActivation(res)
	return nil
}

func printActivation(res locator.ActivationResult) {
	if res.Noop {
		fmt.Printf("Mirror %s is already active\n", res.URL)
		return
	}
	fmt.Printf("Activated mirror: %s\n", res.URL)
	if res.CatalogURL != "" {
		fmt.Printf("  catalog: %s\n", res.CatalogURL)
	}
	fmt.Printf("  epoch:   %s\n", res.EpochID)
}
