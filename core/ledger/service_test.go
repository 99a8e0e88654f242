package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
	"github.com/trezcool/shule/tests"
)

var ctx = context.Background()

func receipt(cash, fees ledger.Ledger, amount string, date time.Time) ledger.NewVoucher {
	return ledger.NewVoucher{
		Type:      ledger.Receipt,
		Date:      date,
		Narration: "Tuition",
		Entries: []ledger.NewEntry{
			{LedgerID: cash.ID, Side: ledger.Debit, Amount: testutil.Money(amount)},
			{LedgerID: fees.ID, Side: ledger.Credit, Amount: testutil.Money(amount)},
		},
	}
}

func balanceOf(t *testing.T, svc *ledger.Service, id string) decimal.Decimal {
	t.Helper()
	ldg, err := svc.GetLedger(ctx, id)
	require.NoError(t, err)
	return ldg.CurrentBalance
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, testutil.Money(want).Equal(got), "want %s, got %s", want, got)
}

func TestService_PostVoucher(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	date := testutil.Date(2026, time.March, 10)

	v, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "5000", date))
	require.NoError(t, err)

	assert.Equal(t, "RCT-2026-000001", v.VoucherNumber)
	assert.Equal(t, ledger.Receipt, v.Type)
	assert.Equal(t, date, v.Date)
	assertMoney(t, "5000", v.TotalAmount)
	require.Len(t, v.Entries, 2)
	assert.Equal(t, v.ID, v.Entries[0].VoucherID)

	assertMoney(t, "5000", balanceOf(t, env.Ledger, cash.ID))
	assertMoney(t, "5000", balanceOf(t, env.Ledger, fees.ID))

	t.Run("sequences per type and year", func(t *testing.T) {
		v2, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "10", date))
		require.NoError(t, err)
		assert.Equal(t, "RCT-2026-000002", v2.VoucherNumber)

		jrn := receipt(cash, fees, "10", date)
		jrn.Type = ledger.Journal
		v3, err := env.Ledger.PostVoucher(ctx, jrn)
		require.NoError(t, err)
		assert.Equal(t, "JRN-2026-000001", v3.VoucherNumber)

		v4, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "10", testutil.Date(2027, time.January, 2)))
		require.NoError(t, err)
		assert.Equal(t, "RCT-2027-000001", v4.VoucherNumber)
	})

	t.Run("same ledger on both sides", func(t *testing.T) {
		before := balanceOf(t, env.Ledger, cash.ID)
		_, err := env.Ledger.PostVoucher(ctx, ledger.NewVoucher{
			Type: ledger.Contra,
			Entries: []ledger.NewEntry{
				{LedgerID: cash.ID, Side: ledger.Debit, Amount: testutil.Money("30")},
				{LedgerID: cash.ID, Side: ledger.Credit, Amount: testutil.Money("30")},
			},
		})
		require.NoError(t, err)
		assert.True(t, before.Equal(balanceOf(t, env.Ledger, cash.ID)))
	})
}

func TestService_PostVoucher_Rejected(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)

	unbalanced := receipt(cash, fees, "100", time.Time{})
	unbalanced.Entries[1].Amount = testutil.Money("99")

	unknown := receipt(cash, fees, "100", time.Time{})
	unknown.Entries[1].LedgerID = "missing"

	tests := []struct {
		name  string
		nv    ledger.NewVoucher
		check func(error) bool
	}{
		{name: "unbalanced", nv: unbalanced, check: core.IsValidation},
		{name: "single entry", nv: ledger.NewVoucher{Type: ledger.Receipt, Entries: unbalanced.Entries[:1]}, check: core.IsValidation},
		{name: "unknown ledger", nv: unknown, check: core.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Ledger.PostVoucher(ctx, tt.nv)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)

			assertMoney(t, "0", balanceOf(t, env.Ledger, cash.ID))
			assertMoney(t, "0", balanceOf(t, env.Ledger, fees.ID))
			vouchers, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{}, nil)
			require.NoError(t, err)
			assert.Empty(t, vouchers)
		})
	}

	// rejected vouchers never consume a number
	v, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "1", testutil.Date(2026, time.May, 1)))
	require.NoError(t, err)
	assert.Equal(t, "RCT-2026-000001", v.VoucherNumber)
}

// failingRepo fails the balance update of one ledger, after the voucher row was written.
type failingRepo struct {
	ledger.Repository
	failOn string
}

func (r failingRepo) AddToLedgerBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	if id == r.failOn {
		return core.NewStorageError("updating ledger balance", errors.New("connection reset"))
	}
	return r.Repository.AddToLedgerBalance(ctx, id, delta)
}

func TestService_PostVoucher_Atomic(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)

	// whichever of the two ledgers is updated last fails
	failOn := cash.ID
	if fees.ID > cash.ID {
		failOn = fees.ID
	}
	svc := ledger.NewService(failingRepo{Repository: env.LedgerRepo, failOn: failOn}, env.DB, env.Logger)

	_, err := svc.PostVoucher(ctx, receipt(cash, fees, "750", time.Time{}))
	require.Error(t, err)

	assertMoney(t, "0", balanceOf(t, env.Ledger, cash.ID))
	assertMoney(t, "0", balanceOf(t, env.Ledger, fees.ID))
	vouchers, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, vouchers)
}

// staleSequenceRepo hands out the same voucher sequence every time, as a sequence reset behind the
// service's back would.
type staleSequenceRepo struct {
	ledger.Repository
}

func (staleSequenceRepo) NextVoucherSequence(context.Context, ledger.VoucherType, int) (int64, error) {
	return 1, nil
}

func TestService_PostVoucher_DuplicateNumber(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	svc := ledger.NewService(staleSequenceRepo{Repository: env.LedgerRepo}, env.DB, env.Logger)

	first, err := svc.PostVoucher(ctx, receipt(cash, fees, "100", testutil.Date(2026, time.May, 1)))
	require.NoError(t, err)
	assert.Equal(t, "RCT-2026-000001", first.VoucherNumber)

	_, err = svc.PostVoucher(ctx, receipt(cash, fees, "40", testutil.Date(2026, time.May, 2)))
	require.Error(t, err)
	assert.True(t, core.IsDuplicate(err), "unexpected error: %v", err)

	assertMoney(t, "100", balanceOf(t, env.Ledger, cash.ID))
	assertMoney(t, "100", balanceOf(t, env.Ledger, fees.ID))
	vouchers, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	assert.Equal(t, first.ID, vouchers[0].ID)
}

func TestService_ReverseVoucher(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)

	orig, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "1200", testutil.Date(2026, time.April, 1)))
	require.NoError(t, err)

	rev, err := env.Ledger.ReverseVoucher(ctx, orig.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, orig.ID, rev.ReversalOf)
	assert.True(t, rev.IsReversal())
	assert.Equal(t, "Reversal of "+orig.VoucherNumber, rev.Narration)
	assert.Equal(t, ledger.Receipt, rev.Type)
	require.Len(t, rev.Entries, 2)
	assert.Equal(t, ledger.Credit, rev.Entries[0].Side)
	assert.Equal(t, cash.ID, rev.Entries[0].LedgerID)
	assert.Equal(t, ledger.Debit, rev.Entries[1].Side)

	assertMoney(t, "0", balanceOf(t, env.Ledger, cash.ID))
	assertMoney(t, "0", balanceOf(t, env.Ledger, fees.ID))

	// the original is untouched
	got, err := env.Ledger.GetVoucher(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig.VoucherNumber, got.VoucherNumber)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, ledger.Debit, got.Entries[0].Side)

	t.Run("twice", func(t *testing.T) {
		_, err := env.Ledger.ReverseVoucher(ctx, orig.ID, nil)
		assert.True(t, core.IsConflict(err), "unexpected error: %v", err)
		assertMoney(t, "0", balanceOf(t, env.Ledger, cash.ID))
	})

	t.Run("the reversal", func(t *testing.T) {
		again, err := env.Ledger.ReverseVoucher(ctx, rev.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, rev.ID, again.ReversalOf)
		assertMoney(t, "1200", balanceOf(t, env.Ledger, cash.ID))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := env.Ledger.ReverseVoucher(ctx, "missing", nil)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_GetLedgerBalance(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)

	_, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "100", testutil.Date(2026, time.January, 10)))
	require.NoError(t, err)
	_, err = env.Ledger.PostVoucher(ctx, receipt(cash, fees, "250.75", testutil.Date(2026, time.February, 10)))
	require.NoError(t, err)

	tests := []struct {
		name string
		asOf *time.Time
		want string
	}{
		{name: "current", want: "350.75"},
		{name: "before any voucher", asOf: ptr(testutil.Date(2025, time.December, 31)), want: "0"},
		{name: "end of january", asOf: ptr(testutil.Date(2026, time.January, 31)), want: "100"},
		{name: "on the voucher date", asOf: ptr(testutil.Date(2026, time.February, 10)), want: "350.75"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.Ledger.GetLedgerBalance(ctx, cash.ID, tt.asOf)
			require.NoError(t, err)
			assertMoney(t, tt.want, got)
		})
	}

	t.Run("matches cached balance", func(t *testing.T) {
		got, err := env.Ledger.GetLedgerBalance(ctx, fees.ID, nil)
		require.NoError(t, err)
		assert.True(t, got.Equal(balanceOf(t, env.Ledger, fees.ID)))
	})

	t.Run("unknown ledger", func(t *testing.T) {
		_, err := env.Ledger.GetLedgerBalance(ctx, "missing", nil)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_OpeningBalance(t *testing.T) {
	env := testutil.NewEnv(t)
	groups, err := env.Ledger.QueryGroups(ctx)
	require.NoError(t, err)
	var assets ledger.Group
	for _, g := range groups {
		if g.Category == ledger.CategoryAsset {
			assets = g
		}
	}
	require.NotEmpty(t, assets.ID)

	petty, err := env.Ledger.CreateLedger(ctx, ledger.NewLedger{Name: "Petty Cash", GroupID: assets.ID, OpeningBalance: testutil.Money("200")})
	require.NoError(t, err)
	assert.Equal(t, ledger.Debit, petty.OpeningBalanceType)
	assertMoney(t, "200", petty.CurrentBalance)

	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	_, err = env.Ledger.PostVoucher(ctx, receipt(petty, fees, "50", testutil.Date(2026, time.March, 1)))
	require.NoError(t, err)

	bal, err := env.Ledger.GetLedgerBalance(ctx, petty.ID, nil)
	require.NoError(t, err)
	assertMoney(t, "250", bal)

	stmt, err := env.Ledger.LedgerStatement(ctx, petty.ID, nil, nil)
	require.NoError(t, err)
	assertMoney(t, "200", stmt.OpeningBalance)
	assertMoney(t, "250", stmt.ClosingBalance)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := env.Ledger.CreateLedger(ctx, ledger.NewLedger{Name: "petty cash", GroupID: assets.ID})
		assert.True(t, core.IsValidation(err), "unexpected error: %v", err)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := env.Ledger.CreateLedger(ctx, ledger.NewLedger{Name: "Till", GroupID: "missing"})
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_LedgerStatement(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	bank := env.LedgerByName(t, ledger.LedgerBank)

	_, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "100", testutil.Date(2026, time.January, 5)))
	require.NoError(t, err)
	_, err = env.Ledger.PostVoucher(ctx, receipt(cash, fees, "300", testutil.Date(2026, time.February, 5)))
	require.NoError(t, err)
	deposit, err := env.Ledger.PostVoucher(ctx, ledger.NewVoucher{
		Type: ledger.Contra,
		Date: testutil.Date(2026, time.February, 20),
		Entries: []ledger.NewEntry{
			{LedgerID: bank.ID, Side: ledger.Debit, Amount: testutil.Money("350")},
			{LedgerID: cash.ID, Side: ledger.Credit, Amount: testutil.Money("350")},
		},
	})
	require.NoError(t, err)

	from, to := testutil.Date(2026, time.February, 1), testutil.Date(2026, time.February, 28)
	stmt, err := env.Ledger.LedgerStatement(ctx, cash.ID, &from, &to)
	require.NoError(t, err)

	assertMoney(t, "100", stmt.OpeningBalance)
	assertMoney(t, "50", stmt.ClosingBalance)
	require.Len(t, stmt.Lines, 2)
	assertMoney(t, "400", stmt.Lines[0].Balance)
	assert.Equal(t, deposit.VoucherNumber, stmt.Lines[1].VoucherNumber)
	assert.Equal(t, ledger.Credit, stmt.Lines[1].Side)
	assertMoney(t, "50", stmt.Lines[1].Balance)
}

func TestService_TrialBalance(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	salaries := env.LedgerByName(t, ledger.LedgerSalaries)

	_, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "5000", testutil.Date(2026, time.January, 5)))
	require.NoError(t, err)
	_, err = env.Ledger.PostVoucher(ctx, ledger.NewVoucher{
		Type: ledger.Payment,
		Date: testutil.Date(2026, time.January, 31),
		Entries: []ledger.NewEntry{
			{LedgerID: salaries.ID, Side: ledger.Debit, Amount: testutil.Money("7000")},
			{LedgerID: cash.ID, Side: ledger.Credit, Amount: testutil.Money("7000")},
		},
	})
	require.NoError(t, err)

	tb, err := env.Ledger.TrialBalance(ctx, nil)
	require.NoError(t, err)
	assert.True(t, tb.Balanced(), "debit %s credit %s", tb.TotalDebit, tb.TotalCredit)
	assertMoney(t, "7000", tb.TotalDebit)

	rows := make(map[string]ledger.TrialBalanceRow, len(tb.Rows))
	for _, r := range tb.Rows {
		rows[r.LedgerName] = r
	}
	// overdrawn cash shows on the credit side
	assertMoney(t, "2000", rows[ledger.LedgerCash].Credit)
	assertMoney(t, "0", rows[ledger.LedgerCash].Debit)
	assertMoney(t, "5000", rows[ledger.LedgerStudentFees].Credit)
	assertMoney(t, "7000", rows[ledger.LedgerSalaries].Debit)

	asOf := testutil.Date(2026, time.January, 10)
	early, err := env.Ledger.TrialBalance(ctx, &asOf)
	require.NoError(t, err)
	assert.True(t, early.Balanced())
	assertMoney(t, "5000", early.TotalDebit)
}

func TestService_ConcurrentPosting(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	date := testutil.Date(2026, time.June, 1)

	const n = 25
	var wg sync.WaitGroup
	numbers := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "10.10", date))
			if assert.NoError(t, err) {
				numbers <- v.VoucherNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, n)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate voucher number %s", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("RCT-2026-%06d", i)])
	}

	assertMoney(t, "252.50", balanceOf(t, env.Ledger, cash.ID))
	mismatches, err := env.Ledger.VerifyBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestService_ChartOfAccounts(t *testing.T) {
	env := testutil.NewEnv(t)

	created, err := env.Ledger.SeedChartOfAccounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, created, "seeding twice must not create ledgers")

	cash := env.LedgerByName(t, ledger.LedgerCash)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)
	assert.True(t, cash.IsSystem)
	assert.Equal(t, ledger.CategoryAsset, cash.Category)
	assert.Equal(t, ledger.CategoryIncome, fees.Category)

	assert.Equal(t, ledger.ErrSystemLedger, env.Ledger.DeleteLedger(ctx, cash.ID))
	assert.Equal(t, ledger.ErrSystemGroup, env.Ledger.DeleteGroup(ctx, cash.GroupID))

	grp, err := env.Ledger.CreateGroup(ctx, ledger.NewGroup{Name: "Fixed Assets", Category: ledger.CategoryAsset})
	require.NoError(t, err)
	bus, err := env.Ledger.CreateLedger(ctx, ledger.NewLedger{Name: "School Bus", GroupID: grp.ID})
	require.NoError(t, err)
	assert.Equal(t, ledger.ErrGroupInUse, env.Ledger.DeleteGroup(ctx, grp.ID))

	_, err = env.Ledger.PostVoucher(ctx, ledger.NewVoucher{
		Type: ledger.Payment,
		Entries: []ledger.NewEntry{
			{LedgerID: bus.ID, Side: ledger.Debit, Amount: testutil.Money("1")},
			{LedgerID: cash.ID, Side: ledger.Credit, Amount: testutil.Money("1")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.ErrLedgerInUse, env.Ledger.DeleteLedger(ctx, bus.ID))

	unused, err := env.Ledger.CreateLedger(ctx, ledger.NewLedger{Name: "Furniture", GroupID: grp.ID})
	require.NoError(t, err)
	require.NoError(t, env.Ledger.DeleteLedger(ctx, unused.ID))
	_, err = env.Ledger.GetLedger(ctx, unused.ID)
	assert.True(t, core.IsNotFound(err))

	_, err = env.Ledger.CreateGroup(ctx, ledger.NewGroup{Name: "Misc", Category: "STUFF"})
	assert.True(t, core.IsValidation(err))
}

func TestService_QueryVouchers(t *testing.T) {
	env := testutil.NewEnv(t)
	cash := env.LedgerByName(t, ledger.LedgerCash)
	bank := env.LedgerByName(t, ledger.LedgerBank)
	fees := env.LedgerByName(t, ledger.LedgerStudentFees)

	v1, err := env.Ledger.PostVoucher(ctx, receipt(cash, fees, "10", testutil.Date(2026, time.January, 1)))
	require.NoError(t, err)
	v2, err := env.Ledger.PostVoucher(ctx, receipt(bank, fees, "20", testutil.Date(2026, time.February, 1)))
	require.NoError(t, err)

	all, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, v2.ID, all[0].ID, "newest first")

	byLedger, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{LedgerID: cash.ID}, nil)
	require.NoError(t, err)
	require.Len(t, byLedger, 1)
	assert.Equal(t, v1.ID, byLedger[0].ID)

	from := testutil.Date(2026, time.January, 15)
	ranged, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{From: &from}, []core.DBOrdering{{Field: "date", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, v2.ID, ranged[0].ID)

	none, err := env.Ledger.QueryVouchers(ctx, ledger.VoucherFilter{Type: ledger.Payment}, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func ptr(t time.Time) *time.Time { return &t }
