package ofx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statementHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240415120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
`

const sampleBankOFX = statementHeader + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>INR
<BANKACCTFROM>
<BANKID>HDFC0001234
<ACCTID>50100012345678
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240401120000[0:GMT]
<DTEND>20240430120000[0:GMT]
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240405120000[0:GMT]
<TRNAMT>45000.00
<FITID>N1
<NAME>NEFT-ICIC0000123-ACME CORP-INV42
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240408120000[0:GMT]
<TRNAMT>-1250.50
<FITID>U1
<NAME>UPI/412345678901/Sharma Stationers/paid
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240410120000[0:GMT]
<TRNAMT>-899.00
<FITID>P1
<NAME>POS AMAZON RETAIL*ZX12
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240411120000[0:GMT]
<TRNAMT>-5000.00
<FITID>G1
<NAME>TRANSFER
<MEMO>Gupta Traders
</STMTTRN>
<STMTTRN>
<TRNTYPE>FEE
<DTPOSTED>20240412120000[0:GMT]
<TRNAMT>-118.00
<FITID>F1
<NAME>CHARGES
</STMTTRN>
<STMTTRN>
<TRNTYPE>OTHER
<DTPOSTED>20240413120000[0:GMT]
<TRNAMT>0.00
<FITID>Z1
<NAME>Zero Line Pvt Ltd
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>100000.00
<DTASOF>20240430120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestParseHistory(t *testing.T) {
	records, err := NewParser(nil).ParseHistory(context.Background(), strings.NewReader(sampleBankOFX), "hdfc.ofx")
	require.NoError(t, err)
	require.Len(t, records, 4)

	want := []struct {
		entity string
		amount string
	}{
		{"ACME CORP", "45000"},
		{"Sharma Stationers", "1250.5"},
		{"AMAZON RETAIL", "899"},
		{"Gupta Traders", "5000"},
	}
	for i, w := range want {
		assert.Equal(t, w.entity, records[i].Entity)
		assert.True(t, records[i].Amount.Equal(decimal.RequireFromString(w.amount)), "record %d amount %s", i, records[i].Amount)
		assert.Equal(t, "hdfc.ofx", records[i].Source)
	}
	assert.Equal(t, time.Date(2024, 4, 5, 12, 0, 0, 0, time.UTC), records[0].Date.UTC())
}

func TestParseHistoryTrimsLeadingWhitespace(t *testing.T) {
	broken := "\n\n  " + sampleBankOFX

	records, err := NewParser(nil).ParseHistory(context.Background(), strings.NewReader(broken), "x")
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestParseHistoryRejectsGarbage(t *testing.T) {
	_, err := NewParser(nil).ParseHistory(context.Background(), strings.NewReader("not a statement"), "x")
	assert.Error(t, err)
}

func TestParseHistoryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewParser(nil).ParseHistory(ctx, strings.NewReader(sampleBankOFX), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCounterpartyName(t *testing.T) {
	tests := []struct {
		name string
		tx   ofxgo.Transaction
		want string
	}{
		{"payee wins", ofxgo.Transaction{Name: "NEFT-X-OTHER-1", Payee: &ofxgo.Payee{Name: "Acme Corp"}}, "Acme Corp"},
		{"rtgs narration", ofxgo.Transaction{Name: "RTGS-SBIN0000001-Big Buyer Ltd-ref"}, "Big Buyer Ltd"},
		{"imps narration", ofxgo.Transaction{Name: "IMPS/998877/Ravi Kumar/rent"}, "Ravi Kumar"},
		{"card prefix and ref", ofxgo.Transaction{Name: "DEBIT CARD PURCHASE FLIPKART#9912"}, "FLIPKART"},
		{"generic with memo", ofxgo.Transaction{Name: "PAYMENT", Memo: "Mehta & Sons"}, "Mehta & Sons"},
		{"generic without memo", ofxgo.Transaction{Name: "CASH"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, counterpartyName(tt.tx))
		})
	}
}

type fakeHistory struct {
	err   error
	saved []model.HistoryRecord
}

func (f *fakeHistory) SaveHistory(_ context.Context, records []model.HistoryRecord) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, records...)
	return len(records) - 1, nil
}

func TestImport(t *testing.T) {
	store := &fakeHistory{}
	parsed, inserted, err := Import(context.Background(), NewParser(nil), strings.NewReader(sampleBankOFX), "hdfc.ofx", store)
	require.NoError(t, err)
	assert.Equal(t, 4, parsed)
	assert.Equal(t, 3, inserted)
	assert.Len(t, store.saved, 4)

	store = &fakeHistory{err: errors.New("disk full")}
	_, _, err = Import(context.Background(), NewParser(nil), strings.NewReader(sampleBankOFX), "hdfc.ofx", store)
	assert.ErrorContains(t, err, "disk full")
}
