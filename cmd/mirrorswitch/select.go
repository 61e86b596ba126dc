package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var (
	selectTries    int
	selectTimeout  time.Duration
	selectActivate bool
)

func newSelectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Race the configured mirrors and report the fastest",
		Long: `Probe every enabled mirror's test URL concurrently and report the one that
answered fastest. With --activate the winner's catalog is loaded and the
selection is persisted for the next start.`,
		Example: `  mirrorswitch select
  mirrorswitch select --tries 5 --timeout 3s
  mirrorswitch select --activate`,
		RunE: selectRun,
	}

	cmd.Flags().IntVar(&selectTries, "tries", 0, "race rounds (default from config)")
	cmd.Flags().DurationVar(&selectTimeout, "timeout", 0, "per-round timeout (default from config)")
	cmd.Flags().BoolVar(&selectActivate, "activate", false, "activate the fastest mirror")

	return cmd
}

func selectRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil || globalService == nil {
		return fmt.Errorf("locator service not initialized")
	}

	tries := selectTries
	if tries <= 0 {
		tries = globalCfg.Mirrors.URLTriesCount
	}
	timeout := selectTimeout
	if timeout <= 0 {
		timeout = globalCfg.Mirrors.Timeout()
	}

	if selectActivate {
		if kept, ok := globalService.RetainedSelection(); ok {
			fmt.Println("Permanent remote is active; keeping it.")
			printActivation(kept)
			return nil
		}
	}

	log.Info("racing mirrors", "mirrors", len(globalService.Mirrors()), "tries", tries, "timeout", timeout)
	sel := globalService.SelectRemote(cmd.Context(), tries, timeout)
	if !sel.Success {
		return fmt.Errorf("selection failed after %d round(s): %w", sel.Rounds, sel.Err)
	}

	fmt.Printf("Fastest mirror: %s\n", sel.URL)
	fmt.Printf("  probe URL: %s\n", sel.TestURL)
	fmt.Printf("  latency:   %s\n", sel.Elapsed.Round(time.Millisecond))
	fmt.Printf("  rounds:    %d\n", sel.Rounds)

	if !selectActivate {
		return nil
	}

	res := globalService.ActivateSelection(cmd.Context(), sel.URL)
	if !res.Success {
		return fmt.Errorf("activation failed: %w", res.Err)
	}
	printActivation(res)
	return nil
}
