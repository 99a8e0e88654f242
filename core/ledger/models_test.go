package ledger

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSignedAmount(t *testing.T) {
	tests := []struct {
		cat  Category
		side Side
		want string
	}{
		{CategoryAsset, Debit, "100"},
		{CategoryAsset, Credit, "-100"},
		{CategoryExpense, Debit, "100"},
		{CategoryExpense, Credit, "-100"},
		{CategoryLiability, Credit, "100"},
		{CategoryLiability, Debit, "-100"},
		{CategoryIncome, Credit, "100"},
		{CategoryIncome, Debit, "-100"},
		{CategoryEquity, Credit, "100"},
		{CategoryEquity, Debit, "-100"},
	}
	for _, tt := range tests {
		t.Run(string(tt.cat)+"/"+string(tt.side), func(t *testing.T) {
			assert.True(t, SignedAmount(tt.cat, tt.side, money("100")).Equal(money(tt.want)))
		})
	}
}

func TestFormatVoucherNumber(t *testing.T) {
	assert.Equal(t, "RCT-2026-000001", FormatVoucherNumber(Receipt, 2026, 1))
	assert.Equal(t, "PAY-2025-000042", FormatVoucherNumber(Payment, 2025, 42))
	assert.Equal(t, "CON-2026-123456", FormatVoucherNumber(Contra, 2026, 123456))
	assert.Equal(t, "JRN-2026-1000000", FormatVoucherNumber(Journal, 2026, 1000000))
}

func TestLedger_OpeningSigned(t *testing.T) {
	tests := []struct {
		name string
		ldg  Ledger
		want string
	}{
		{name: "zero", ldg: Ledger{Category: CategoryAsset}, want: "0"},
		{name: "asset debit", ldg: Ledger{Category: CategoryAsset, OpeningBalance: money("500"), OpeningBalanceType: Debit}, want: "500"},
		{name: "asset credit", ldg: Ledger{Category: CategoryAsset, OpeningBalance: money("500"), OpeningBalanceType: Credit}, want: "-500"},
		{name: "equity credit", ldg: Ledger{Category: CategoryEquity, OpeningBalance: money("1000"), OpeningBalanceType: Credit}, want: "1000"},
		{name: "side defaults to natural", ldg: Ledger{Category: CategoryIncome, OpeningBalance: money("10")}, want: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.ldg.OpeningSigned().Equal(money(tt.want)), "got %s", tt.ldg.OpeningSigned())
		})
	}
}

func TestNewVoucher_Validate(t *testing.T) {
	entry := func(side Side, amount string) NewEntry {
		return NewEntry{LedgerID: "l-" + string(side), Side: side, Amount: money(amount)}
	}

	tests := []struct {
		name      string
		nv        NewVoucher
		wantTotal string
		wantErr   error
		wantField string
	}{
		{
			name:      "balanced",
			nv:        NewVoucher{Type: Receipt, Entries: []NewEntry{entry(Debit, "5000"), entry(Credit, "5000")}},
			wantTotal: "5000",
		},
		{
			name:      "split credits",
			nv:        NewVoucher{Type: Journal, Entries: []NewEntry{entry(Debit, "100.50"), entry(Credit, "60.25"), entry(Credit, "40.25")}},
			wantTotal: "100.50",
		},
		{
			name:      "single entry",
			nv:        NewVoucher{Type: Receipt, Entries: []NewEntry{entry(Debit, "10")}},
			wantErr:   errTooFewEntries,
			wantField: "entries",
		},
		{
			name:      "unbalanced",
			nv:        NewVoucher{Type: Payment, Entries: []NewEntry{entry(Debit, "100"), entry(Credit, "99.99")}},
			wantErr:   errUnbalanced,
			wantField: "entries",
		},
		{
			name:      "zero amount",
			nv:        NewVoucher{Type: Payment, Entries: []NewEntry{entry(Debit, "0"), entry(Credit, "0")}},
			wantField: "entries[0].amount",
		},
		{
			name:      "negative amount",
			nv:        NewVoucher{Type: Payment, Entries: []NewEntry{entry(Debit, "-5"), entry(Credit, "-5")}},
			wantField: "entries[0].amount",
		},
		{
			name:      "too many decimals",
			nv:        NewVoucher{Type: Payment, Entries: []NewEntry{entry(Debit, "1.005"), entry(Credit, "1.005")}},
			wantField: "entries[0].amount",
		},
		{
			name:      "invalid side",
			nv:        NewVoucher{Type: Contra, Entries: []NewEntry{entry(Debit, "1"), {LedgerID: "x", Side: "LEFT", Amount: money("1")}}},
			wantField: "entries[1].side",
		},
		{
			name:      "missing ledger",
			nv:        NewVoucher{Type: Contra, Entries: []NewEntry{entry(Debit, "1"), {Side: Credit, Amount: money("1")}}},
			wantField: "entries[1].ledger_id",
		},
		{
			name:      "invalid type",
			nv:        NewVoucher{Type: "SALES", Entries: []NewEntry{entry(Debit, "1"), entry(Credit, "1")}},
			wantField: "type",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := tt.nv.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.True(t, total.Equal(money(tt.wantTotal)), "total = %s", total)
				return
			}

			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr), "want a validation error, got %v", err)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, verr.Err)
			}
			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

func TestTrialBalance_Balanced(t *testing.T) {
	assert.True(t, TrialBalance{TotalDebit: money("10.00"), TotalCredit: money("10")}.Balanced())
	assert.False(t, TrialBalance{TotalDebit: money("10"), TotalCredit: money("9.99")}.Balanced())
}

func TestAmountInWords(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"5000", "Five thousand"},
		{"5000.50", "Five thousand and 50/100"},
		{"0.05", "Zero and 05/100"},
		{"-12", "Minus twelve"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, AmountInWords(money(tt.amount)))
		})
	}
}
