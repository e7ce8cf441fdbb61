package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

var sheetHeader = []any{
	"Reference", "Type", "Date", "Counterparty", "Amount",
	"Mode", "GST Rate", "TDS Rate", "Narration", "Entries",
}

const columnCount = 10

// SheetsLedger stores one voucher per row of a Google Sheets tab.
type SheetsLedger struct {
	service *sheets.Service
	logger  *slog.Logger
	config  SheetsConfig
}

// NewSheetsLedger authenticates and returns a ledger backed by config.SpreadsheetID.
func NewSheetsLedger(ctx context.Context, config SheetsConfig, logger *slog.Logger) (*SheetsLedger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return newSheetsLedger(srv, config, logger), nil
}

func newSheetsLedger(srv *sheets.Service, config SheetsConfig, logger *slog.Logger) *SheetsLedger {
	if config.SheetName == "" {
		config.SheetName = DefaultSheetsConfig().SheetName
	}
	return &SheetsLedger{service: srv, config: config, logger: common.OrDefault(logger)}
}

func createSheetsService(ctx context.Context, config SheetsConfig) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = client.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	if config.Timeout > 0 {
		httpClient.Timeout = config.Timeout
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// EnsureSheet creates the voucher tab with its header row when missing.
func (s *SheetsLedger) EnsureSheet(ctx context.Context) error {
	if _, err := s.sheetID(ctx); err == nil {
		return nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	_, err := s.service.Spreadsheets.BatchUpdate(s.config.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title:          s.config.SheetName,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("create sheet %s: %w", s.config.SheetName, classify(ctx, err, false))
	}

	_, err = s.service.Spreadsheets.Values.Update(s.config.SpreadsheetID, s.config.SheetName+"!A1",
		&sheets.ValueRange{Values: [][]any{sheetHeader}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write header: %w", classify(ctx, err, false))
	}

	s.logger.Info("created ledger sheet", "spreadsheet_id", s.config.SpreadsheetID, "sheet", s.config.SheetName)
	return nil
}

// Write appends doc as a new row.
func (s *SheetsLedger) Write(ctx context.Context, doc model.Document) (model.WriteAck, error) {
	row, err := encodeRow(&doc)
	if err != nil {
		return model.WriteAck{}, reject("%v", err)
	}

	resp, err := s.service.Spreadsheets.Values.Append(s.config.SpreadsheetID, s.columnRange(),
		&sheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return model.WriteAck{}, fmt.Errorf("append voucher %s: %w", doc.Reference, classify(ctx, err, true))
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}

	s.logger.Debug("appended voucher", "reference", doc.Reference, "range", ref)
	return model.WriteAck{ExternalRef: ref, Accepted: true}, nil
}

// Read scans the tab and returns matching vouchers. Rows that fail to parse are skipped.
func (s *SheetsLedger) Read(ctx context.Context, query model.LedgerQuery) (*model.LedgerState, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}

	state := &model.LedgerState{}
	for i, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			s.logger.Warn("skipping unreadable ledger row", "row", i+2, "error", err)
			continue
		}
		if matches(query, doc) {
			state.Vouchers = append(state.Vouchers, model.Voucher{
				ExternalRef: fmt.Sprintf("%s!A%d:J%d", s.config.SheetName, i+2, i+2),
				Document:    *doc,
			})
		}
	}
	return state, nil
}

// Delete removes every row carrying reference.
func (s *SheetsLedger) Delete(ctx context.Context, reference string) error {
	rows, err := s.rows(ctx)
	if err != nil {
		return err
	}

	var indexes []int64
	for i, row := range rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == reference {
			// Data starts on the second row; grid indexes are zero-based.
			indexes = append(indexes, int64(i+1))
		}
	}
	if len(indexes) == 0 {
		return nil
	}

	sheetID, err := s.sheetID(ctx)
	if err != nil {
		return err
	}

	// Delete bottom-up so earlier indexes stay valid.
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] > indexes[j] })
	requests := make([]*sheets.Request, 0, len(indexes))
	for _, idx := range indexes {
		requests = append(requests, &sheets.Request{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: idx,
					EndIndex:   idx + 1,
				},
			},
		})
	}

	_, err = s.service.Spreadsheets.BatchUpdate(s.config.SpreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete voucher %s: %w", reference, classify(ctx, err, false))
	}
	return nil
}

// Ping checks the spreadsheet is reachable.
func (s *SheetsLedger) Ping(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Get(s.config.SpreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ping spreadsheet: %w", classify(ctx, err, false))
	}
	return nil
}

func (s *SheetsLedger) columnRange() string {
	return s.config.SheetName + "!A:J"
}

func (s *SheetsLedger) rows(ctx context.Context) ([][]any, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.config.SpreadsheetID, s.config.SheetName+"!A2:J").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read vouchers: %w", classify(ctx, err, false))
	}
	return resp.Values, nil
}

func (s *SheetsLedger) sheetID(ctx context.Context) (int64, error) {
	resp, err := s.service.Spreadsheets.Get(s.config.SpreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", classify(ctx, err, false))
	}
	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.config.SheetName {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %s: %w", s.config.SheetName, common.ErrNotFound)
}

// classify maps API failures onto the ledger error contract. A write that
// failed after the request left this process may still have been applied,
// so it is reported as uncertain.
func classify(ctx context.Context, err error, write bool) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		if write && !neverSent(err) {
			return fmt.Errorf("%w: %w", ErrUncertain, err)
		}
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	case apiErr.Code >= http.StatusInternalServerError:
		if write {
			return fmt.Errorf("%w: %w", ErrUncertain, err)
		}
		return fmt.Errorf("%w: %w", common.ErrUnavailable, err)
	case apiErr.Code == http.StatusNotFound && !write:
		return fmt.Errorf("%w: %w", common.ErrNotFound, err)
	default:
		return &RejectedError{Reason: apiErr.Message}
	}
}

func encodeRow(doc *model.Document) ([]any, error) {
	entries, err := json.Marshal(doc.Entries)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return []any{
		doc.Reference,
		string(doc.VoucherType),
		doc.Date.Format(time.DateOnly),
		doc.Counterparty,
		doc.Amount.StringFixed(2),
		doc.Mode,
		rateCell(doc.GSTRate),
		rateCell(doc.TDSRate),
		doc.Narration,
		string(entries),
	}, nil
}

func rateCell(rate *decimal.Decimal) string {
	if rate == nil {
		return ""
	}
	return rate.String()
}

func decodeRow(row []any) (*model.Document, error) {
	cells := make([]string, columnCount)
	for i := 0; i < len(row) && i < columnCount; i++ {
		cells[i] = fmt.Sprint(row[i])
	}
	if cells[0] == "" {
		return nil, errors.New("missing reference")
	}

	date, err := time.Parse(time.DateOnly, cells[2])
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", cells[2], err)
	}
	amount, err := decimal.NewFromString(cells[4])
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", cells[4], err)
	}

	doc := &model.Document{
		Reference:    cells[0],
		VoucherType:  model.VoucherType(cells[1]),
		Date:         date,
		Counterparty: cells[3],
		Amount:       amount,
		Mode:         cells[5],
		Narration:    cells[8],
	}
	if doc.GSTRate, err = parseRate(cells[6]); err != nil {
		return nil, err
	}
	if doc.TDSRate, err = parseRate(cells[7]); err != nil {
		return nil, err
	}
	if cells[9] != "" {
		if err := json.Unmarshal([]byte(cells[9]), &doc.Entries); err != nil {
			return nil, fmt.Errorf("parse entries: %w", err)
		}
	}
	return doc, nil
}

func parseRate(cell string) (*decimal.Decimal, error) {
	if cell == "" {
		return nil, nil
	}
	rate, err := decimal.NewFromString(cell)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", cell, err)
	}
	return &rate, nil
}

// neverSent reports transport failures that happen before any request byte
// reaches the server: name resolution and connection setup.
func neverSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
