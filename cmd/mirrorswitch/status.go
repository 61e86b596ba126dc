package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusLimit int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display the persisted selection and activation history",
		Long: `Display the mirror selection persisted by the last activation and, with the
sqlite backend, the most recent activation attempts.`,
		Example: `  mirrorswitch status
  mirrorswitch status --limit 20`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of history entries to show")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil || globalService == nil {
		return fmt.Errorf("locator service not initialized")
	}

	fmt.Println("Mirror Status")
	fmt.Println("=============")
	fmt.Println("")
	fmt.Printf("Remote mirrors enabled: %s\n", yesNo(globalCfg.Mirrors.Enabled))
	fmt.Printf("Permanent remote:       %s\n", yesNo(globalCfg.Mirrors.PermanentRemote))
	fmt.Printf("Registered mirrors:     %d\n", len(globalService.Mirrors()))

	selected := globalService.PersistedURL(cmd.Context())
	if selected == "" {
		selected = "(none)"
	}
	fmt.Printf("Persisted selection:    %s\n", selected)
	fmt.Println("")

	if globalStore == nil {
		fmt.Println("Activation history is only kept by the sqlite backend.")
		return nil
	}

	last, err := globalStore.LastSuccessfulActivation(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading last activation: %w", err)
	}
	if last != nil {
		fmt.Printf("Last successful activation: %s at %s (epoch %s)\n",
			last.RemoteURL, last.EndTime.Local().Format(time.DateTime), last.EpochID)
		fmt.Println("")
	}

	history, err := globalStore.ListActivations(cmd.Context(), statusLimit)
	if err != nil {
		return fmt.Errorf("listing activations: %w", err)
	}
	if len(history) == 0 {
		fmt.Println("No activations recorded.")
		return nil
	}

	fmt.Printf("%-20s %-8s %-40s %s\n", "Started", "Status", "Remote URL", "Error")
	fmt.Println(strings.Repeat("-", 90))
	for _, a := range history {
		fmt.Printf("%-20s %-8s %-40s %s\n",
			a.StartTime.Local().Format(time.DateTime), a.Status, a.RemoteURL, a.ErrorMessage)
	}
	fmt.Println("")

	return nil
}
