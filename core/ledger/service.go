package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

var (
	ErrSystemGroup       = core.NewConflictError("system ledger groups cannot be deleted")
	ErrSystemLedger      = core.NewConflictError("system ledgers cannot be deleted")
	ErrGroupInUse        = core.NewConflictError("ledger group still has ledgers")
	ErrLedgerInUse       = core.NewConflictError("ledger has posted entries; correct it with a reversal instead")
	errGroupNameExists   = errors.New("a ledger group with this name already exists")
	errLedgerNameExists  = errors.New("a ledger with this name already exists")
	errCategoryMismatch  = errors.New("opening balance side is not valid")
	errInvalidCategory   = errors.New("invalid ledger group category")
	errAlreadyReversedFm = "voucher %s has already been reversed"
)

type (
	Repository interface {
		CreateGroup(ctx context.Context, grp Group) (Group, error)
		GetGroup(ctx context.Context, id string) (Group, error)
		GetGroupByName(ctx context.Context, name string) (Group, error)
		QueryGroups(ctx context.Context) ([]Group, error)
		DeleteGroup(ctx context.Context, id string) error
		CountGroupLedgers(ctx context.Context, groupID string) (int, error)

		CreateLedger(ctx context.Context, ldg Ledger) (Ledger, error)
		GetLedger(ctx context.Context, id string) (Ledger, error)
		GetLedgerByName(ctx context.Context, name string) (Ledger, error)
		QueryLedgers(ctx context.Context, filter LedgerFilter) ([]Ledger, error)
		// LockLedgers returns the existing ledgers among ids, locked for update until the transaction ends.
		LockLedgers(ctx context.Context, ids []string) ([]Ledger, error)
		AddToLedgerBalance(ctx context.Context, id string, delta decimal.Decimal) error
		DeleteLedger(ctx context.Context, id string) error
		CountLedgerEntries(ctx context.Context, ledgerID string) (int, error)

		// NextVoucherSequence atomically increments and returns the voucher counter of (type, year).
		NextVoucherSequence(ctx context.Context, vType VoucherType, year int) (int64, error)
		CreateVoucher(ctx context.Context, v Voucher) (Voucher, error)
		GetVoucher(ctx context.Context, id string) (Voucher, error)
		GetVoucherReversal(ctx context.Context, voucherID string) (Voucher, error)
		QueryVouchers(ctx context.Context, filter VoucherFilter, ordering []core.DBOrdering) ([]Voucher, error)
		// QueryStatementLines returns the entries posted against a ledger by vouchers dated within [from, to],
		// ordered by voucher date then creation. Nil bounds are open.
		QueryStatementLines(ctx context.Context, ledgerID string, from, to *time.Time) ([]StatementLine, error)
	}

	Service struct {
		repo   Repository
		tx     core.Transactor
		logger core.Logger
		now    func() time.Time
	}

	// BalanceMismatch reports a ledger whose cached balance drifted from its posted entries.
	BalanceMismatch struct {
		Ledger   Ledger          `json:"ledger"`
		Computed decimal.Decimal `json:"computed"`
	}
)

func NewService(repo Repository, tx core.Transactor, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		logger: logger,
		now:    time.Now,
	}
}

func (svc *Service) today() time.Time { return dateOnly(svc.now()) }

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Chart of accounts

func (svc *Service) CreateGroup(ctx context.Context, ng NewGroup) (Group, error) {
	ng.Name = core.CleanString(ng.Name)
	if !ng.Category.Valid() {
		return Group{}, core.NewValidationError(errInvalidCategory, core.FieldError{Field: "category", Error: errInvalidCategory.Error()})
	}
	return svc.createGroup(ctx, Group{Name: ng.Name, Category: ng.Category})
}

func (svc *Service) createGroup(ctx context.Context, grp Group) (Group, error) {
	if _, err := svc.repo.GetGroupByName(ctx, grp.Name); err == nil {
		return Group{}, core.NewValidationError(errGroupNameExists, core.FieldError{Field: "name", Error: errGroupNameExists.Error()})
	} else if !core.IsNotFound(err) {
		return Group{}, errors.Wrap(err, "checking ledger group name")
	}
	return svc.repo.CreateGroup(ctx, grp)
}

func (svc *Service) QueryGroups(ctx context.Context) ([]Group, error) {
	return svc.repo.QueryGroups(ctx)
}

func (svc *Service) DeleteGroup(ctx context.Context, id string) error {
	return svc.tx.InTx(ctx, func(ctx context.Context) error {
		grp, err := svc.repo.GetGroup(ctx, id)
		if err != nil {
			return err
		}
		if grp.IsSystem {
			return ErrSystemGroup
		}
		n, err := svc.repo.CountGroupLedgers(ctx, id)
		if err != nil {
			return errors.Wrap(err, "counting group ledgers")
		}
		if n > 0 {
			return ErrGroupInUse
		}
		return svc.repo.DeleteGroup(ctx, id)
	})
}

func (svc *Service) CreateLedger(ctx context.Context, nl NewLedger) (Ledger, error) {
	nl.Name = core.CleanString(nl.Name)
	if nl.OpeningBalance.IsNegative() {
		return Ledger{}, core.NewValidationError(
			errors.New("opening balance cannot be negative"),
			core.FieldError{Field: "opening_balance", Error: "must be 0 or greater"},
		)
	}
	if nl.OpeningBalanceType != "" && !nl.OpeningBalanceType.Valid() {
		return Ledger{}, core.NewValidationError(errCategoryMismatch, core.FieldError{Field: "opening_balance_type", Error: "must be one of DEBIT CREDIT"})
	}

	grp, err := svc.repo.GetGroup(ctx, nl.GroupID)
	if err != nil {
		return Ledger{}, err
	}
	return svc.createLedger(ctx, grp, Ledger{
		Name:               nl.Name,
		OpeningBalance:     nl.OpeningBalance,
		OpeningBalanceType: nl.OpeningBalanceType,
	})
}

func (svc *Service) createLedger(ctx context.Context, grp Group, ldg Ledger) (Ledger, error) {
	if _, err := svc.repo.GetLedgerByName(ctx, ldg.Name); err == nil {
		return Ledger{}, core.NewValidationError(errLedgerNameExists, core.FieldError{Field: "name", Error: errLedgerNameExists.Error()})
	} else if !core.IsNotFound(err) {
		return Ledger{}, errors.Wrap(err, "checking ledger name")
	}

	ldg.GroupID = grp.ID
	ldg.GroupName = grp.Name
	ldg.Category = grp.Category
	if ldg.OpeningBalanceType == "" {
		ldg.OpeningBalanceType = grp.Category.NaturalSide()
	}
	ldg.CurrentBalance = ldg.OpeningSigned()
	ldg.CreatedAt = svc.now().UTC()
	return svc.repo.CreateLedger(ctx, ldg)
}

func (svc *Service) GetLedger(ctx context.Context, id string) (Ledger, error) {
	return svc.repo.GetLedger(ctx, id)
}

func (svc *Service) GetLedgerByName(ctx context.Context, name string) (Ledger, error) {
	return svc.repo.GetLedgerByName(ctx, name)
}

func (svc *Service) QueryLedgers(ctx context.Context, filter LedgerFilter) ([]Ledger, error) {
	return svc.repo.QueryLedgers(ctx, filter)
}

func (svc *Service) DeleteLedger(ctx context.Context, id string) error {
	return svc.tx.InTx(ctx, func(ctx context.Context) error {
		ldg, err := svc.repo.GetLedger(ctx, id)
		if err != nil {
			return err
		}
		if ldg.IsSystem {
			return ErrSystemLedger
		}
		n, err := svc.repo.CountLedgerEntries(ctx, id)
		if err != nil {
			return errors.Wrap(err, "counting ledger entries")
		}
		if n > 0 {
			return ErrLedgerInUse
		}
		return svc.repo.DeleteLedger(ctx, id)
	})
}

// Posting

// PostVoucher validates and commits a balanced voucher: the voucher, its entries and every
// ledger balance update are written in one transaction, or nothing is.
func (svc *Service) PostVoucher(ctx context.Context, nv NewVoucher) (Voucher, error) {
	total, err := nv.Validate()
	if err != nil {
		return Voucher{}, err
	}
	date := svc.today()
	if !nv.Date.IsZero() {
		date = dateOnly(nv.Date)
	}

	var posted Voucher
	err = svc.tx.InTx(ctx, func(ctx context.Context) error {
		ids := ledgerIDs(nv.Entries)
		ledgers, err := svc.repo.LockLedgers(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "locking ledgers")
		}
		byID := make(map[string]Ledger, len(ledgers))
		for _, l := range ledgers {
			byID[l.ID] = l
		}
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				return core.NewNotFoundError("ledger", id)
			}
		}

		seq, err := svc.repo.NextVoucherSequence(ctx, nv.Type, date.Year())
		if err != nil {
			return errors.Wrap(err, "generating voucher number")
		}

		v := Voucher{
			VoucherNumber: FormatVoucherNumber(nv.Type, date.Year(), seq),
			Date:          date,
			Type:          nv.Type,
			Narration:     core.CleanString(nv.Narration),
			TotalAmount:   total,
			ReversalOf:    nv.reversalOf,
			CreatedAt:     svc.now().UTC(),
			Entries:       make([]Entry, 0, len(nv.Entries)),
		}
		deltas := make(map[string]decimal.Decimal, len(ids))
		for _, e := range nv.Entries {
			v.Entries = append(v.Entries, Entry{LedgerID: e.LedgerID, Amount: e.Amount, Side: e.Side})
			deltas[e.LedgerID] = deltas[e.LedgerID].Add(SignedAmount(byID[e.LedgerID].Category, e.Side, e.Amount))
		}

		if posted, err = svc.repo.CreateVoucher(ctx, v); err != nil {
			return err
		}
		for _, id := range ids {
			if err = svc.repo.AddToLedgerBalance(ctx, id, deltas[id]); err != nil {
				return errors.Wrap(err, "updating ledger balance")
			}
		}
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}

	svc.logger.Info("voucher posted", map[string]interface{}{
		"voucher_number": posted.VoucherNumber,
		"type":           posted.Type,
		"total":          posted.TotalAmount.StringFixed(2),
	})
	return posted, nil
}

// ReverseVoucher posts a new voucher with every entry's side flipped, referencing the original.
// The original is never modified. A voucher can only be reversed once; reversing the reversal
// re-applies the original postings.
func (svc *Service) ReverseVoucher(ctx context.Context, id string, date *time.Time) (Voucher, error) {
	var reversal Voucher
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		orig, err := svc.repo.GetVoucher(ctx, id)
		if err != nil {
			return err
		}
		if _, err = svc.repo.GetVoucherReversal(ctx, orig.ID); err == nil {
			return core.NewConflictError(fmt.Sprintf(errAlreadyReversedFm, orig.VoucherNumber))
		} else if !core.IsNotFound(err) {
			return errors.Wrap(err, "checking existing reversal")
		}

		nv := NewVoucher{
			Type:       orig.Type,
			Narration:  "Reversal of " + orig.VoucherNumber,
			Entries:    make([]NewEntry, 0, len(orig.Entries)),
			reversalOf: orig.ID,
		}
		if date != nil {
			nv.Date = *date
		}
		for _, e := range orig.Entries {
			nv.Entries = append(nv.Entries, NewEntry{LedgerID: e.LedgerID, Side: e.Side.Opposite(), Amount: e.Amount})
		}
		reversal, err = svc.PostVoucher(ctx, nv)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	return reversal, nil
}

func (svc *Service) GetVoucher(ctx context.Context, id string) (Voucher, error) {
	return svc.repo.GetVoucher(ctx, id)
}

func (svc *Service) QueryVouchers(ctx context.Context, filter VoucherFilter, ordering []core.DBOrdering) ([]Voucher, error) {
	return svc.repo.QueryVouchers(ctx, filter, ordering)
}

// Balances

// GetLedgerBalance recomputes a ledger balance from its opening balance and the entries of vouchers
// dated on or before asOf. Without asOf, the result always equals the cached current balance.
func (svc *Service) GetLedgerBalance(ctx context.Context, id string, asOf *time.Time) (decimal.Decimal, error) {
	ldg, err := svc.repo.GetLedger(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return svc.computeBalance(ctx, ldg, asOf)
}

func (svc *Service) computeBalance(ctx context.Context, ldg Ledger, asOf *time.Time) (decimal.Decimal, error) {
	lines, err := svc.repo.QueryStatementLines(ctx, ldg.ID, nil, asOf)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "querying statement lines")
	}
	balance := ldg.OpeningSigned()
	for _, line := range lines {
		balance = balance.Add(SignedAmount(ldg.Category, line.Side, line.Amount))
	}
	return balance, nil
}

// LedgerStatement lists the entries of a ledger between from and to with a running balance.
func (svc *Service) LedgerStatement(ctx context.Context, id string, from, to *time.Time) (Statement, error) {
	ldg, err := svc.repo.GetLedger(ctx, id)
	if err != nil {
		return Statement{}, err
	}
	lines, err := svc.repo.QueryStatementLines(ctx, id, nil, to)
	if err != nil {
		return Statement{}, errors.Wrap(err, "querying statement lines")
	}

	stmt := Statement{Ledger: ldg, From: from, To: to, Lines: make([]StatementLine, 0, len(lines))}
	balance := ldg.OpeningSigned()
	for _, line := range lines {
		balance = balance.Add(SignedAmount(ldg.Category, line.Side, line.Amount))
		if from != nil && line.Date.Before(dateOnly(*from)) {
			stmt.OpeningBalance = balance
			continue
		}
		line.Balance = balance
		stmt.Lines = append(stmt.Lines, line)
	}
	if len(stmt.Lines) == len(lines) {
		stmt.OpeningBalance = ldg.OpeningSigned()
	}
	stmt.ClosingBalance = balance
	return stmt, nil
}

// TrialBalance lists every ledger balance in debit/credit columns.
func (svc *Service) TrialBalance(ctx context.Context, asOf *time.Time) (TrialBalance, error) {
	ledgers, err := svc.repo.QueryLedgers(ctx, LedgerFilter{})
	if err != nil {
		return TrialBalance{}, errors.Wrap(err, "querying ledgers")
	}

	tb := TrialBalance{AsOf: asOf, Rows: make([]TrialBalanceRow, 0, len(ledgers))}
	for _, ldg := range ledgers {
		balance := ldg.CurrentBalance
		if asOf != nil {
			if balance, err = svc.computeBalance(ctx, ldg, asOf); err != nil {
				return TrialBalance{}, err
			}
		}

		row := TrialBalanceRow{
			LedgerID:   ldg.ID,
			LedgerName: ldg.Name,
			GroupName:  ldg.GroupName,
			Category:   ldg.Category,
			Debit:      decimal.Zero,
			Credit:     decimal.Zero,
		}
		side := ldg.Category.NaturalSide()
		if balance.IsNegative() {
			side = side.Opposite()
		}
		if side == Debit {
			row.Debit = balance.Abs()
		} else {
			row.Credit = balance.Abs()
		}
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
		tb.Rows = append(tb.Rows, row)
	}
	return tb, nil
}

// VerifyBalances recomputes every ledger balance from its entries and reports the ledgers whose
// cached balance disagrees.
func (svc *Service) VerifyBalances(ctx context.Context) ([]BalanceMismatch, error) {
	ledgers, err := svc.repo.QueryLedgers(ctx, LedgerFilter{})
	if err != nil {
		return nil, errors.Wrap(err, "querying ledgers")
	}
	var mismatches []BalanceMismatch
	for _, ldg := range ledgers {
		computed, err := svc.computeBalance(ctx, ldg, nil)
		if err != nil {
			return nil, err
		}
		if !computed.Equal(ldg.CurrentBalance) {
			svc.logger.Warn("ledger balance mismatch", map[string]interface{}{
				"ledger":   ldg.Name,
				"cached":   ldg.CurrentBalance.StringFixed(2),
				"computed": computed.StringFixed(2),
			})
			mismatches = append(mismatches, BalanceMismatch{Ledger: ldg, Computed: computed})
		}
	}
	return mismatches, nil
}

// ledgerIDs returns the distinct ledger ids of entries, sorted so that row locks are always taken in the same order.
func ledgerIDs(entries []NewEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.LedgerID]; ok {
			continue
		}
		seen[e.LedgerID] = struct{}{}
		ids = append(ids, e.LedgerID)
	}
	sort.Strings(ids)
	return ids
}
