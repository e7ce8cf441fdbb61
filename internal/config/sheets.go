package config

import (
	"os"

	"github.com/Veraticus/the-books-must-balance/internal/ledger"
)

// applySheetsEnv fills credentials the config left empty from the
// GOOGLE_SHEETS_* variables shared with other tooling.
func applySheetsEnv(cfg *ledger.SheetsConfig) {
	if cfg.ServiceAccountPath == "" {
		cfg.ServiceAccountPath = os.Getenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH")
	}
	cfg.ServiceAccountPath = ExpandPath(cfg.ServiceAccountPath)

	fill := map[*string]string{
		&cfg.ClientID:      "GOOGLE_SHEETS_CLIENT_ID",
		&cfg.ClientSecret:  "GOOGLE_SHEETS_CLIENT_SECRET",
		&cfg.RefreshToken:  "GOOGLE_SHEETS_REFRESH_TOKEN",
		&cfg.SpreadsheetID: "GOOGLE_SHEETS_SPREADSHEET_ID",
	}
	for field, env := range fill {
		if *field == "" {
			*field = os.Getenv(env)
		}
	}
}
