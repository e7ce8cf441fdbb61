package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/spf13/cobra"
)

func recoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Settle transactions abandoned mid-write",
		Long: `Find transactions stuck between lock and commit, for example after a crash,
and settle them: verified writes are committed, everything else is rolled back
and the ledger restored from its backup.

"books serve" does this periodically; run it by hand after an unclean shutdown.`,
		RunE: runRecover,
	}
	cmd.Flags().Duration("older-than", 0, "only settle transactions idle this long (minimum: transaction.lock_ttl)")
	return cmd
}

func runRecover(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	if olderThan <= 0 {
		olderThan = cfg.Transaction.LockTTL
	}
	started := time.Now()
	n, err := a.manager.RecoverStale(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
		fmt.Sprintf("Settled %d stale transaction(s) in %s", n, time.Since(started).Round(time.Millisecond))))
	return err
}
