package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/cli"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func entitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Manage known customers, suppliers and other counterparties",
	}
	cmd.AddCommand(entitiesListCmd(), entitiesAddCmd(), entitiesImportCmd())
	return cmd
}

func entitiesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entities, err := store.ListEntities(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list entities: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), formatEntities(entities))
			return err
		},
	}
}

func formatEntities(entities []model.Entity) string {
	if len(entities) == 0 {
		return cli.FormatInfo("No entities yet. Add one with: books entities add <name>")
	}

	width := len("Name")
	for _, e := range entities {
		width = max(width, len(e.Name))
	}
	row := func(name, kind, gstin string) string {
		return fmt.Sprintf("%-*s  %-12s  %s", width, name, kind, gstin)
	}

	lines := []string{cli.TableHeaderStyle.Render(row("Name", "Type", "GSTIN"))}
	for _, e := range entities {
		lines = append(lines, row(e.Name, string(e.Type), e.GSTIN))
	}
	lines = append(lines, cli.SubtleStyle.Render(fmt.Sprintf("%d entities", len(entities))))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func entitiesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("type")
			gstin, _ := cmd.Flags().GetString("gstin")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entity := model.Entity{
				Name:  strings.TrimSpace(args[0]),
				Type:  model.ParseEntityType(strings.ToLower(strings.TrimSpace(kind))),
				GSTIN: strings.ToUpper(strings.TrimSpace(gstin)),
			}
			if err := store.SaveEntity(cmd.Context(), &entity); err != nil {
				return fmt.Errorf("failed to save entity: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Saved %s %s", entity.Type, entity.Name)))
			return err
		},
	}
	cmd.Flags().StringP("type", "t", "other", "customer, supplier, bank, contractor, professional or other")
	cmd.Flags().String("gstin", "", "GST identification number")
	return cmd
}

func entitiesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import entities from a CSV file",
		Long: `Import entities from a CSV file with a header row.

Recognized columns are name (required), type and gstin, in any order:

  name,type,gstin
  Acme Corp,customer,27AAPFU0939F1ZV
  Sharma Stationers,supplier,`,
		Args: cobra.ExactArgs(1),
		RunE: runEntitiesImport,
	}
}

func runEntitiesImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = f.Close() }()

	entities, err := readEntitiesCSV(f)
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

	bar := progressbar.NewOptions(len(entities),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Importing entities"),
	)

	saved := 0
	for i := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.SaveEntity(ctx, &entities[i]); err != nil {
			slog.Warn("Skipping entity", "name", entities[i].Name, "error", err)
		} else {
			saved++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	_, err = fmt.Fprintln(cmd.OutOrStdout(), "\n"+cli.FormatSuccess(fmt.Sprintf("Imported %d of %d entities", saved, len(entities))))
	return err
}

// readEntitiesCSV parses a headed CSV into entities. Rows without a name are skipped.
func readEntitiesCSV(r io.Reader) ([]model.Entity, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("CSV file is empty")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["name"]; !ok {
		return nil, fmt.Errorf("CSV header must include a name column")
	}

	cell := func(record []string, column string) string {
		i, ok := columns[column]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var entities []model.Entity
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		name := cell(record, "name")
		if name == "" {
			continue
		}
		entities = append(entities, model.Entity{
			Name:  name,
			Type:  model.ParseEntityType(strings.ToLower(cell(record, "type"))),
			GSTIN: strings.ToUpper(cell(record, "gstin")),
		})
	}
	return entities, nil
}
