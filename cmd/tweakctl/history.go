package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tweakctl/tweakctl/pkg/tweak/output"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

var (
	historyScope string
	historyLimit int
	cleanDays    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the transaction audit trail",
	Long: `List past transactions, newest first, including already-reverted
ones. Each entry shows the knobs it applied and how many backups and
effects it recorded.`,
	RunE: runHistory,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old reverted transactions",
	Long: `Remove reverted transactions older than the retention period.
Transactions that have not been reverted are never removed.`,
	RunE: runHistoryClean,
}

func init() {
	historyCmd.Flags().StringVar(&historyScope, "scope", "user", "scope: user or root")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCleanCmd.Flags().IntVar(&cleanDays, "days", 0, "retention in days (default: config retention_days)")

	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	scope := types.Scope(historyScope)
	if !scope.Valid() {
		return fmt.Errorf("invalid scope %q", historyScope)
	}

	manifests, err := a.eng.History(scope)
	if err != nil {
		return err
	}
	if historyLimit > 0 && len(manifests) > historyLimit {
		manifests = manifests[:historyLimit]
	}

	report := &output.Report{}
	for _, m := range manifests {
		report.History = append(report.History, output.HistoryRow{
			ID:        m.ID,
			Scope:     string(m.Scope),
			CreatedAt: m.CreatedAt,
			Knobs:     m.Knobs,
			Backups:   len(m.Backups),
			Effects:   len(m.Effects),
			Reverted:  m.Reverted,
		})
	}
	return render(report)
}

func runHistoryClean(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	days := cleanDays
	if days <= 0 {
		days = a.cfg.RetentionDays
	}

	scope := types.Scope(historyScope)
	if !scope.Valid() {
		scope = types.ScopeUser
	}
	removed, err := a.eng.Clean(scope, days)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d reverted transaction(s)\n", len(removed))
	return nil
}
