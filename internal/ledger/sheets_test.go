package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// fakeSheets serves the handful of Sheets API calls the ledger makes.
type fakeSheets struct {
	rows      [][]any
	failWith  int
	hasSheet  bool
	mu        sync.Mutex
	appends   int
	batchReqs int
	// dropAppend applies the append, then closes the connection unanswered.
	dropAppend bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"error":{"code":` + fmt.Sprint(f.failWith) + `,"message":"forced failure"}}`))
		return
	}

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, ":append"):
		var body sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.rows = append(f.rows, body.Values...)
		f.appends++
		if f.dropAppend {
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				_ = conn.Close()
			}
			return
		}
		row := len(f.rows) + 1
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRange": fmt.Sprintf("Vouchers!A%d:J%d", row, row)},
		})
	case strings.HasSuffix(path, ":batchUpdate"):
		var body sheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.batchReqs++
		for _, req := range body.Requests {
			if req.AddSheet != nil {
				f.hasSheet = true
			}
			if req.DeleteDimension != nil {
				idx := int(req.DeleteDimension.Range.StartIndex) - 1
				f.rows = append(f.rows[:idx], f.rows[idx+1:]...)
			}
		}
		_, _ = w.Write([]byte(`{}`))
	case strings.Contains(path, "/values/") && r.Method == http.MethodPut:
		_, _ = w.Write([]byte(`{}`))
	case strings.Contains(path, "/values/"):
		_ = json.NewEncoder(w).Encode(map[string]any{"range": "Vouchers!A2:J", "values": f.rows})
	default:
		sheetsList := []any{}
		if f.hasSheet {
			sheetsList = append(sheetsList, map[string]any{"properties": map[string]any{"sheetId": 7, "title": "Vouchers"}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "sheets": sheetsList})
	}
}

func newTestSheetsLedger(t *testing.T, fake *fakeSheets) *SheetsLedger {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	cfg := DefaultSheetsConfig()
	cfg.SpreadsheetID = "sheet-1"
	return newSheetsLedger(srv, cfg, nil)
}

func TestSheetsLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSheets{hasSheet: true}
	l := newTestSheetsLedger(t, fake)

	doc := receipt("r-1", "HDFC Bank", 50000)
	ack, err := l.Write(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "Vouchers!A2:J2", ack.ExternalRef)

	_, err = l.Write(ctx, receipt("r-2", "Acme Traders", 10))
	require.NoError(t, err)

	state, err := l.Read(ctx, model.LedgerQuery{Reference: "r-1"})
	require.NoError(t, err)
	require.Len(t, state.Vouchers, 1)
	got := state.Vouchers[0].Document
	assert.True(t, doc.Matches(&got))
	assert.Len(t, got.Entries, 2)
	assert.Empty(t, got.Validate())

	require.NoError(t, l.Delete(ctx, "r-1"))
	assert.Len(t, fake.rows, 1)
	assert.Equal(t, "r-2", fake.rows[0][0])

	require.NoError(t, l.Ping(ctx))
}

func TestSheetsLedger_SkipsBadRows(t *testing.T) {
	fake := &fakeSheets{hasSheet: true, rows: [][]any{
		{"r-bad", "Receipt", "yesterday", "HDFC", "10"},
		{},
	}}
	l := newTestSheetsLedger(t, fake)

	state, err := l.Read(context.Background(), model.LedgerQuery{})
	require.NoError(t, err)
	assert.Empty(t, state.Vouchers)
}

func TestSheetsLedger_EnsureSheet(t *testing.T) {
	fake := &fakeSheets{}
	l := newTestSheetsLedger(t, fake)

	require.NoError(t, l.EnsureSheet(context.Background()))
	assert.True(t, fake.hasSheet)
	assert.Equal(t, 1, fake.batchReqs)

	require.NoError(t, l.EnsureSheet(context.Background()))
	assert.Equal(t, 1, fake.batchReqs)
}

func TestSheetsLedger_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		target error
		status int
	}{
		{name: "rate limited is retryable", status: http.StatusTooManyRequests, target: common.ErrUnavailable},
		{name: "unavailable is retryable", status: http.StatusServiceUnavailable, target: common.ErrUnavailable},
		{name: "server error on write is uncertain", status: http.StatusInternalServerError, target: ErrUncertain},
		{name: "bad request is rejected", status: http.StatusBadRequest, target: ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestSheetsLedger(t, &fakeSheets{failWith: tt.status})
			_, err := l.Write(context.Background(), receipt("r-1", "HDFC Bank", 1))
			assert.ErrorIs(t, err, tt.target)
		})
	}

	t.Run("server error on read is retryable", func(t *testing.T) {
		l := newTestSheetsLedger(t, &fakeSheets{failWith: http.StatusBadGateway})
		_, err := l.Read(context.Background(), model.LedgerQuery{})
		assert.True(t, common.IsRetryable(err))
	})
}

func TestSheetsLedger_DroppedAppendIsUncertain(t *testing.T) {
	fake := &fakeSheets{hasSheet: true, dropAppend: true}
	l := newTestSheetsLedger(t, fake)

	_, err := l.Write(context.Background(), receipt("ref-1", "HDFC Bank", 50000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUncertain)
	assert.NotErrorIs(t, err, common.ErrUnavailable, "an applied append must not be retried")
	assert.False(t, common.IsRetryable(err))
	assert.Equal(t, 1, fake.appends)
}

func TestSheetsLedger_UnreachableWriteIsRetryable(t *testing.T) {
	server := httptest.NewServer(&fakeSheets{})
	url := server.URL
	server.Close()

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(url+"/"),
		option.WithHTTPClient(&http.Client{}))
	require.NoError(t, err)
	cfg := DefaultSheetsConfig()
	cfg.SpreadsheetID = "sheet-1"
	l := newSheetsLedger(srv, cfg, nil)

	_, err = l.Write(context.Background(), receipt("ref-1", "HDFC Bank", 50000))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUncertain)
}

func TestSheetsConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		errMsg  string
		config  SheetsConfig
		wantErr bool
	}{
		{
			name:   "valid oauth config",
			config: SheetsConfig{ClientID: "id", ClientSecret: "secret", RefreshToken: "token", SpreadsheetID: "s", SheetName: "Vouchers"},
		},
		{
			name:   "valid service account config",
			config: SheetsConfig{ServiceAccountPath: "/path/to/key.json", SpreadsheetID: "s", SheetName: "Vouchers"},
		},
		{
			name:    "missing auth",
			config:  SheetsConfig{SpreadsheetID: "s", SheetName: "Vouchers"},
			wantErr: true,
			errMsg:  "no authentication method configured",
		},
		{
			name: "multiple auth methods",
			config: SheetsConfig{
				ClientID: "id", ClientSecret: "secret", RefreshToken: "token",
				ServiceAccountPath: "/path/to/key.json", SpreadsheetID: "s", SheetName: "Vouchers",
			},
			wantErr: true,
			errMsg:  "multiple authentication methods",
		},
		{
			name:    "missing spreadsheet",
			config:  SheetsConfig{ServiceAccountPath: "/k.json", SheetName: "Vouchers"},
			wantErr: true,
			errMsg:  "spreadsheet id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}
