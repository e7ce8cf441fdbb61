package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/ofx"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the amount history used to flag unusual vouchers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <files...>",
		Short: "Import counterparty amounts from OFX/QFX bank statements",
		Long: `Import counterparty amounts from OFX or QFX statements exported from your bank.

Examples:
  books history import ~/Downloads/hdfc_apr_2024.ofx
  books history import ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runHistoryImport,
	})
	return cmd
}

func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

func runHistoryImport(cmd *cobra.Command, args []string) error {
	files, err := expandFiles(args)
	if err != nil {
		return err
	}

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

	parser := ofx.NewParser(slog.Default())
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Importing statements"),
	)

	var parsed, inserted, failed int
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			slog.Error("Failed to open file", "file", path, "error", err)
			failed++
			_ = bar.Add(1)
			continue
		}
		p, n, err := ofx.Import(ctx, parser, f, filepath.Base(path), store)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to import statement", "file", path, "error", err)
			failed++
		}
		parsed += p
		inserted += n
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, "\n"+cli.FormatSuccess(fmt.Sprintf("Read %d records, %d new", parsed, inserted))); err != nil {
		return err
	}
	if failed > 0 {
		_, err = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d file(s) could not be imported; see the log", failed)))
		return err
	}
	return nil
}
