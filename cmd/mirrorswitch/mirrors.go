package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorswitch/internal/mirror"
)

func newMirrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mirrors",
		Aliases: []string{"ls"},
		Short:   "List configured mirrors",
		Long: `List the mirrors from the config file with their enabled state, whether they
were registered and which one is the persisted selection. Disabled mirrors
are never registered.`,
		RunE: mirrorsRun,
	}
	return cmd
}

func mirrorsRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil || globalService == nil {
		return fmt.Errorf("locator service not initialized")
	}

	remotes := globalCfg.Mirrors.Remotes
	if len(remotes) == 0 {
		fmt.Println("No mirrors configured.")
		return nil
	}

	persisted := mirror.Key(globalService.PersistedURL(cmd.Context()))

	fmt.Println("Configured Mirrors")
	fmt.Println("==================")
	fmt.Println("")
	fmt.Printf("%-16s %-40s %-8s %-10s %-9s\n", "Name", "Remote URL", "Enabled", "Registered", "Selected")
	fmt.Println(strings.Repeat("-", 87))

	for _, r := range remotes {
		_, registered := globalService.Lookup(r.RemoteURL)
		selected := ""
		if persisted != "" && r.Key() == persisted {
			selected = "*"
		}
		fmt.Printf("%-16s %-40s %-8s %-10s %-9s\n", r.Name, r.RemoteURL, yesNo(r.Enabled), yesNo(registered), selected)
	}
	fmt.Println("")

	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
