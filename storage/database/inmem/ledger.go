package inmemdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
)

type ledgerRepository struct {
	db *DB
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

func (repo *ledgerRepository) CreateGroup(_ context.Context, grp ledger.Group) (ledger.Group, error) {
	err := repo.db.write(func(t *tables) error {
		for _, g := range t.groups {
			if strings.EqualFold(g.Name, grp.Name) {
				return core.NewDuplicateError("ledger group name", grp.Name)
			}
		}
		grp.ID = t.newID()
		t.groups[grp.ID] = grp
		return nil
	})
	return grp, err
}

func (repo *ledgerRepository) GetGroup(_ context.Context, id string) (grp ledger.Group, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if grp, ok = t.groups[id]; !ok {
			return core.NewNotFoundError("ledger group", id)
		}
		return nil
	})
	return grp, err
}

func (repo *ledgerRepository) GetGroupByName(_ context.Context, name string) (grp ledger.Group, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, g := range t.groups {
			if strings.EqualFold(g.Name, name) {
				grp = g
				return nil
			}
		}
		return core.NewNotFoundError("ledger group", name)
	})
	return grp, err
}

func (repo *ledgerRepository) QueryGroups(_ context.Context) (groups []ledger.Group, err error) {
	err = repo.db.read(func(t *tables) error {
		groups = make([]ledger.Group, 0, len(t.groups))
		for _, g := range t.groups {
			groups = append(groups, g)
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
		return nil
	})
	return groups, err
}

func (repo *ledgerRepository) DeleteGroup(_ context.Context, id string) error {
	return repo.db.write(func(t *tables) error {
		delete(t.groups, id)
		return nil
	})
}

func (repo *ledgerRepository) CountGroupLedgers(_ context.Context, groupID string) (n int, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, l := range t.ledgers {
			if l.GroupID == groupID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// withGroup fills the fields a Postgres join on the owning group would return.
func (t *tables) withGroup(l ledger.Ledger) ledger.Ledger {
	if g, ok := t.groups[l.GroupID]; ok {
		l.GroupName = g.Name
		l.Category = g.Category
	}
	return l
}

func (repo *ledgerRepository) CreateLedger(_ context.Context, ldg ledger.Ledger) (ledger.Ledger, error) {
	err := repo.db.write(func(t *tables) error {
		if _, ok := t.groups[ldg.GroupID]; !ok {
			return core.NewNotFoundError("ledger group", ldg.GroupID)
		}
		for _, l := range t.ledgers {
			if strings.EqualFold(l.Name, ldg.Name) {
				return core.NewDuplicateError("ledger name", ldg.Name)
			}
		}
		ldg.ID = t.newID()
		t.ledgers[ldg.ID] = ldg
		ldg = t.withGroup(ldg)
		return nil
	})
	return ldg, err
}

func (repo *ledgerRepository) GetLedger(_ context.Context, id string) (ldg ledger.Ledger, err error) {
	err = repo.db.read(func(t *tables) error {
		l, ok := t.ledgers[id]
		if !ok {
			return core.NewNotFoundError("ledger", id)
		}
		ldg = t.withGroup(l)
		return nil
	})
	return ldg, err
}

func (repo *ledgerRepository) GetLedgerByName(_ context.Context, name string) (ldg ledger.Ledger, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, l := range t.ledgers {
			if strings.EqualFold(l.Name, name) {
				ldg = t.withGroup(l)
				return nil
			}
		}
		return core.NewNotFoundError("ledger", name)
	})
	return ldg, err
}

func (repo *ledgerRepository) QueryLedgers(_ context.Context, filter ledger.LedgerFilter) (ledgers []ledger.Ledger, err error) {
	err = repo.db.read(func(t *tables) error {
		ledgers = make([]ledger.Ledger, 0, len(t.ledgers))
		search := strings.ToLower(filter.Search)
		for _, l := range t.ledgers {
			l = t.withGroup(l)
			if filter.GroupID != "" && l.GroupID != filter.GroupID {
				continue
			}
			if filter.Category != "" && l.Category != filter.Category {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(l.Name), search) {
				continue
			}
			ledgers = append(ledgers, l)
		}
		sort.Slice(ledgers, func(i, j int) bool { return ledgers[i].Name < ledgers[j].Name })
		return nil
	})
	return ledgers, err
}

func (repo *ledgerRepository) LockLedgers(_ context.Context, ids []string) (ledgers []ledger.Ledger, err error) {
	err = repo.db.read(func(t *tables) error {
		ledgers = make([]ledger.Ledger, 0, len(ids))
		for _, id := range ids {
			if l, ok := t.ledgers[id]; ok {
				ledgers = append(ledgers, t.withGroup(l))
			}
		}
		return nil
	})
	return ledgers, err
}

func (repo *ledgerRepository) AddToLedgerBalance(_ context.Context, id string, delta decimal.Decimal) error {
	return repo.db.write(func(t *tables) error {
		l, ok := t.ledgers[id]
		if !ok {
			return core.NewNotFoundError("ledger", id)
		}
		l.CurrentBalance = l.CurrentBalance.Add(delta)
		t.ledgers[id] = l
		return nil
	})
}

func (repo *ledgerRepository) DeleteLedger(_ context.Context, id string) error {
	return repo.db.write(func(t *tables) error {
		delete(t.ledgers, id)
		return nil
	})
}

func (repo *ledgerRepository) CountLedgerEntries(_ context.Context, ledgerID string) (n int, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, v := range t.vouchers {
			for _, e := range v.Entries {
				if e.LedgerID == ledgerID {
					n++
				}
			}
		}
		return nil
	})
	return n, err
}

func (repo *ledgerRepository) NextVoucherSequence(_ context.Context, vType ledger.VoucherType, year int) (seq int64, err error) {
	err = repo.db.write(func(t *tables) error {
		key := fmt.Sprintf("%s/%d", vType, year)
		t.voucherSeqs[key]++
		seq = t.voucherSeqs[key]
		return nil
	})
	return seq, err
}

func (repo *ledgerRepository) CreateVoucher(_ context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	err := repo.db.write(func(t *tables) error {
		for _, existing := range t.vouchers {
			if existing.VoucherNumber == v.VoucherNumber {
				return core.NewDuplicateError("voucher_number", v.VoucherNumber)
			}
			if v.ReversalOf != "" && existing.ReversalOf == v.ReversalOf {
				return core.NewConflictError("voucher has already been reversed")
			}
		}
		v.ID = t.newID()
		entries := make([]ledger.Entry, 0, len(v.Entries))
		for _, e := range v.Entries {
			if _, ok := t.ledgers[e.LedgerID]; !ok {
				return core.NewNotFoundError("ledger", e.LedgerID)
			}
			e.ID = t.newID()
			e.VoucherID = v.ID
			entries = append(entries, e)
		}
		v.Entries = entries
		t.vouchers[v.ID] = v
		return nil
	})
	return v, err
}

func (repo *ledgerRepository) GetVoucher(_ context.Context, id string) (v ledger.Voucher, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if v, ok = t.vouchers[id]; !ok {
			return core.NewNotFoundError("voucher", id)
		}
		return nil
	})
	return v, err
}

func (repo *ledgerRepository) GetVoucherReversal(_ context.Context, voucherID string) (v ledger.Voucher, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, existing := range t.vouchers {
			if existing.ReversalOf == voucherID {
				v = existing
				return nil
			}
		}
		return core.NewNotFoundError("voucher reversal", voucherID)
	})
	return v, err
}

func (repo *ledgerRepository) QueryVouchers(_ context.Context, filter ledger.VoucherFilter, ordering []core.DBOrdering) (vouchers []ledger.Voucher, err error) {
	err = repo.db.read(func(t *tables) error {
		vouchers = make([]ledger.Voucher, 0)
		for _, v := range t.vouchers {
			if filter.Type != "" && v.Type != filter.Type {
				continue
			}
			if filter.From != nil && v.Date.Before(*filter.From) {
				continue
			}
			if filter.To != nil && v.Date.After(*filter.To) {
				continue
			}
			if filter.LedgerID != "" && !touchesLedger(v, filter.LedgerID) {
				continue
			}
			vouchers = append(vouchers, v)
		}
		sortVouchers(t, vouchers, ordering)
		return nil
	})
	return vouchers, err
}

func touchesLedger(v ledger.Voucher, ledgerID string) bool {
	for _, e := range v.Entries {
		if e.LedgerID == ledgerID {
			return true
		}
	}
	return false
}

// sortVouchers orders by the requested fields, newest first by default.
func sortVouchers(t *tables, vouchers []ledger.Voucher, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "date"}, {Field: "created_at"}}
	}
	sort.SliceStable(vouchers, func(i, j int) bool {
		a, b := vouchers[i], vouchers[j]
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "date":
				cmp = a.Date.Compare(b.Date)
			case "voucher_number":
				cmp = strings.Compare(a.VoucherNumber, b.VoucherNumber)
			case "total_amount":
				cmp = a.TotalAmount.Cmp(b.TotalAmount)
			case "created_at":
				cmp = a.CreatedAt.Compare(b.CreatedAt)
				if cmp == 0 {
					if t.before(a.ID, b.ID) {
						cmp = -1
					} else if t.before(b.ID, a.ID) {
						cmp = 1
					}
				}
			}
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func (repo *ledgerRepository) QueryStatementLines(_ context.Context, ledgerID string, from, to *time.Time) (lines []ledger.StatementLine, err error) {
	err = repo.db.read(func(t *tables) error {
		vouchers := make([]ledger.Voucher, 0)
		for _, v := range t.vouchers {
			if from != nil && v.Date.Before(*from) {
				continue
			}
			if to != nil && v.Date.After(*to) {
				continue
			}
			if touchesLedger(v, ledgerID) {
				vouchers = append(vouchers, v)
			}
		}
		sortVouchers(t, vouchers, []core.DBOrdering{{Field: "date", Ascending: true}, {Field: "created_at", Ascending: true}})

		lines = make([]ledger.StatementLine, 0, len(vouchers))
		for _, v := range vouchers {
			for _, e := range v.Entries {
				if e.LedgerID != ledgerID {
					continue
				}
				lines = append(lines, ledger.StatementLine{
					VoucherID:     v.ID,
					VoucherNumber: v.VoucherNumber,
					Date:          v.Date,
					Narration:     v.Narration,
					Side:          e.Side,
					Amount:        e.Amount,
				})
			}
		}
		return nil
	})
	return lines, err
}
