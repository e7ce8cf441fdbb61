package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/audit"
	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Long: `List audit entries.

Examples:
  books audit list --id 3f2a...          # one transaction's full path
  books audit list --type security_event # rejected input
  books audit list --since 24h`,
		RunE: runAuditList,
	}
	list.Flags().String("id", "", "only entries for this entity id")
	list.Flags().String("type", "", "only entries for this entity type (transaction, preview, entity, security_event)")
	list.Flags().Duration("since", 0, "only entries newer than this")
	list.Flags().Int("limit", 50, "maximum entries to show")
	cmd.AddCommand(list)
	return cmd
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	kind, _ := cmd.Flags().GetString("type")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := model.AuditFilter{EntityID: id, EntityType: kind, Limit: limit}
	if since > 0 {
		from := time.Now().Add(-since)
		filter.Since = &from
	}

	entries, err := audit.NewLogger(store, nil).List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, cli.FormatInfo("No audit entries match."))
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(out, formatAuditEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

func formatAuditEntry(e model.AuditEntry) string {
	var b strings.Builder
	b.WriteString(cli.SubtleStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, " %s %s/%s", cli.BoldStyle.Render(e.Action), e.EntityType, e.EntityID)
	if e.OldValue != "" || e.NewValue != "" {
		fmt.Fprintf(&b, " %s → %s", e.OldValue, e.NewValue)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Actor != "" {
		b.WriteString(cli.SubtleStyle.Render(" by " + e.Actor))
	}
	return b.String()
}
