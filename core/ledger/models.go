package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

type (
	Category    string
	Side        string
	VoucherType string
)

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryIncome    Category = "INCOME"
	CategoryExpense   Category = "EXPENSE"
	CategoryEquity    Category = "EQUITY"

	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"

	Receipt VoucherType = "RECEIPT"
	Payment VoucherType = "PAYMENT"
	Contra  VoucherType = "CONTRA"
	Journal VoucherType = "JOURNAL"
)

var (
	AllCategories   = []Category{CategoryAsset, CategoryLiability, CategoryIncome, CategoryExpense, CategoryEquity}
	AllVoucherTypes = []VoucherType{Receipt, Payment, Contra, Journal}

	voucherPrefixes = map[VoucherType]string{
		Receipt: "RCT",
		Payment: "PAY",
		Contra:  "CON",
		Journal: "JRN",
	}
)

func (c Category) Valid() bool {
	for _, cat := range AllCategories {
		if c == cat {
			return true
		}
	}
	return false
}

// NaturalSide is the side that increases the balance of ledgers of this category.
func (c Category) NaturalSide() Side {
	switch c {
	case CategoryAsset, CategoryExpense:
		return Debit
	default:
		return Credit
	}
}

func (s Side) Valid() bool { return s == Debit || s == Credit }

func (s Side) Opposite() Side {
	if s == Debit {
		return Credit
	}
	return Debit
}

func (t VoucherType) Valid() bool {
	_, ok := voucherPrefixes[t]
	return ok
}

func (t VoucherType) Prefix() string { return voucherPrefixes[t] }

// FormatVoucherNumber builds a voucher number: RCT-2026-000042.
func FormatVoucherNumber(t VoucherType, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", t.Prefix(), year, seq)
}

// SignedAmount is `amount` as it affects the balance of a ledger of category `cat` when posted on `side`.
func SignedAmount(cat Category, side Side, amount decimal.Decimal) decimal.Decimal {
	if side == cat.NaturalSide() {
		return amount
	}
	return amount.Neg()
}

type (
	Group struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Category Category `json:"category"`
		IsSystem bool     `json:"is_system"`
	}

	Ledger struct {
		ID                 string          `json:"id"`
		Name               string          `json:"name"`
		GroupID            string          `json:"group_id"`
		GroupName          string          `json:"group_name"`
		Category           Category        `json:"category"` // from the owning group
		OpeningBalance     decimal.Decimal `json:"opening_balance"`
		OpeningBalanceType Side            `json:"opening_balance_type"`
		CurrentBalance     decimal.Decimal `json:"current_balance"`
		IsSystem           bool            `json:"is_system"`
		CreatedAt          time.Time       `json:"created_at"`
	}

	Voucher struct {
		ID            string          `json:"id"`
		VoucherNumber string          `json:"voucher_number"`
		Date          time.Time       `json:"date"`
		Type          VoucherType     `json:"type"`
		Narration     string          `json:"narration"`
		TotalAmount   decimal.Decimal `json:"total_amount"`
		ReversalOf    string          `json:"reversal_of,omitempty"`
		CreatedAt     time.Time       `json:"created_at"`
		Entries       []Entry         `json:"entries"`
	}

	Entry struct {
		ID        string          `json:"id"`
		VoucherID string          `json:"voucher_id"`
		LedgerID  string          `json:"ledger_id"`
		Amount    decimal.Decimal `json:"amount"`
		Side      Side            `json:"side"`
	}

	// StatementLine is one posted entry against a ledger, as read back for statements and balances.
	StatementLine struct {
		VoucherID     string          `json:"voucher_id"`
		VoucherNumber string          `json:"voucher_number"`
		Date          time.Time       `json:"date"`
		Narration     string          `json:"narration"`
		Side          Side            `json:"side"`
		Amount        decimal.Decimal `json:"amount"`
		Balance       decimal.Decimal `json:"balance"`
	}

	Statement struct {
		Ledger         Ledger          `json:"ledger"`
		From           *time.Time      `json:"from,omitempty"`
		To             *time.Time      `json:"to,omitempty"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
		ClosingBalance decimal.Decimal `json:"closing_balance"`
		Lines          []StatementLine `json:"lines"`
	}

	TrialBalanceRow struct {
		LedgerID   string          `json:"ledger_id"`
		LedgerName string          `json:"ledger_name"`
		GroupName  string          `json:"group_name"`
		Category   Category        `json:"category"`
		Debit      decimal.Decimal `json:"debit"`
		Credit     decimal.Decimal `json:"credit"`
	}

	TrialBalance struct {
		AsOf        *time.Time        `json:"as_of,omitempty"`
		Rows        []TrialBalanceRow `json:"rows"`
		TotalDebit  decimal.Decimal   `json:"total_debit"`
		TotalCredit decimal.Decimal   `json:"total_credit"`
	}
)

// OpeningSigned is the opening balance as it counts towards the current balance.
func (l Ledger) OpeningSigned() decimal.Decimal {
	if l.OpeningBalance.IsZero() {
		return decimal.Zero
	}
	side := l.OpeningBalanceType
	if !side.Valid() {
		side = l.Category.NaturalSide()
	}
	return SignedAmount(l.Category, side, l.OpeningBalance)
}

func (v Voucher) IsReversal() bool { return v.ReversalOf != "" }

func (tb TrialBalance) Balanced() bool { return tb.TotalDebit.Equal(tb.TotalCredit) }

type (
	NewGroup struct {
		Name     string   `json:"name" validate:"required,max=100"`
		Category Category `json:"category" validate:"required,oneof=ASSET LIABILITY INCOME EXPENSE EQUITY"`
	}

	NewLedger struct {
		Name               string          `json:"name" validate:"required,max=100"`
		GroupID            string          `json:"group_id" validate:"required"`
		OpeningBalance     decimal.Decimal `json:"opening_balance" validate:"gte=0,money"`
		OpeningBalanceType Side            `json:"opening_balance_type" validate:"omitempty,oneof=DEBIT CREDIT"`
	}

	NewEntry struct {
		LedgerID string          `json:"ledger_id" validate:"required"`
		Side     Side            `json:"side" validate:"required,oneof=DEBIT CREDIT"`
		Amount   decimal.Decimal `json:"amount" validate:"gt=0,money"`
	}

	NewVoucher struct {
		Type      VoucherType `json:"type" validate:"required,oneof=RECEIPT PAYMENT CONTRA JOURNAL"`
		Date      time.Time   `json:"date"` // defaults to today
		Narration string      `json:"narration" validate:"max=500"`
		Entries   []NewEntry  `json:"entries" validate:"required,min=2,dive"`

		reversalOf string
	}

	VoucherFilter struct {
		Type     VoucherType
		From     *time.Time
		To       *time.Time
		LedgerID string
	}

	LedgerFilter struct {
		GroupID  string
		Category Category
		Search   string
	}
)

var (
	errTooFewEntries = errors.New("a voucher needs at least two entries")
	errUnbalanced    = errors.New("total debits must equal total credits")
)

// Validate checks the double-entry rules of the voucher and returns its total.
func (nv NewVoucher) Validate() (decimal.Decimal, error) {
	var flds []core.FieldError
	if !nv.Type.Valid() {
		flds = append(flds, core.FieldError{Field: "type", Error: "must be one of " + joinTypes()})
	}
	if len(nv.Entries) < 2 {
		flds = append(flds, core.FieldError{Field: "entries", Error: errTooFewEntries.Error()})
		return decimal.Zero, core.NewValidationError(errTooFewEntries, flds...)
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, e := range nv.Entries {
		prefix := fmt.Sprintf("entries[%d].", i)
		if strings.TrimSpace(e.LedgerID) == "" {
			flds = append(flds, core.FieldError{Field: prefix + "ledger_id", Error: "this field is required"})
		}
		if !e.Amount.IsPositive() {
			flds = append(flds, core.FieldError{Field: prefix + "amount", Error: "must be greater than 0"})
		} else if !core.IsMoney(e.Amount) {
			flds = append(flds, core.FieldError{Field: prefix + "amount", Error: "must have at most 2 decimal places"})
		}
		switch e.Side {
		case Debit:
			debits = debits.Add(e.Amount)
		case Credit:
			credits = credits.Add(e.Amount)
		default:
			flds = append(flds, core.FieldError{Field: prefix + "side", Error: "must be one of DEBIT CREDIT"})
		}
	}
	if len(flds) > 0 {
		return decimal.Zero, core.NewValidationError(errors.New("invalid voucher"), flds...)
	}
	if !debits.Equal(credits) {
		return decimal.Zero, core.NewValidationError(
			errUnbalanced,
			core.FieldError{Field: "entries", Error: fmt.Sprintf("debits (%s) do not equal credits (%s)", debits.StringFixed(2), credits.StringFixed(2))},
		)
	}
	return debits, nil
}

func joinTypes() string {
	s := make([]string, 0, len(AllVoucherTypes))
	for _, t := range AllVoucherTypes {
		s = append(s, string(t))
	}
	return strings.Join(s, " ")
}
