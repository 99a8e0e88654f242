package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
)

type (
	groupRow struct {
		ID       string `db:"id"`
		Name     string `db:"name"`
		Category string `db:"category"`
		IsSystem bool   `db:"is_system"`
	}

	ledgerRow struct {
		ID                 string          `db:"id"`
		Name               string          `db:"name"`
		GroupID            string          `db:"group_id"`
		GroupName          string          `db:"group_name"`
		Category           string          `db:"category"`
		OpeningBalance     decimal.Decimal `db:"opening_balance"`
		OpeningBalanceType string          `db:"opening_balance_type"`
		CurrentBalance     decimal.Decimal `db:"current_balance"`
		IsSystem           bool            `db:"is_system"`
		CreatedAt          time.Time       `db:"created_at"`
	}

	voucherRow struct {
		ID            string          `db:"id"`
		VoucherNumber string          `db:"voucher_number"`
		Date          time.Time       `db:"date"`
		Type          string          `db:"voucher_type"`
		Narration     string          `db:"narration"`
		TotalAmount   decimal.Decimal `db:"total_amount"`
		ReversalOf    null.String     `db:"reversal_of"`
		CreatedAt     time.Time       `db:"created_at"`
	}

	entryRow struct {
		ID        string          `db:"id"`
		VoucherID string          `db:"voucher_id"`
		LedgerID  string          `db:"ledger_id"`
		Amount    decimal.Decimal `db:"amount"`
		Side      string          `db:"side"`
	}

	statementRow struct {
		VoucherID     string          `db:"voucher_id"`
		VoucherNumber string          `db:"voucher_number"`
		Date          time.Time       `db:"date"`
		Narration     string          `db:"narration"`
		Side          string          `db:"side"`
		Amount        decimal.Decimal `db:"amount"`
	}
)

func (r groupRow) toGroup() ledger.Group {
	return ledger.Group{ID: r.ID, Name: r.Name, Category: ledger.Category(r.Category), IsSystem: r.IsSystem}
}

func (r ledgerRow) toLedger() ledger.Ledger {
	return ledger.Ledger{
		ID:                 r.ID,
		Name:               r.Name,
		GroupID:            r.GroupID,
		GroupName:          r.GroupName,
		Category:           ledger.Category(r.Category),
		OpeningBalance:     r.OpeningBalance,
		OpeningBalanceType: ledger.Side(r.OpeningBalanceType),
		CurrentBalance:     r.CurrentBalance,
		IsSystem:           r.IsSystem,
		CreatedAt:          r.CreatedAt,
	}
}

func (r voucherRow) toVoucher() ledger.Voucher {
	return ledger.Voucher{
		ID:            r.ID,
		VoucherNumber: r.VoucherNumber,
		Date:          r.Date.UTC(),
		Type:          ledger.VoucherType(r.Type),
		Narration:     r.Narration,
		TotalAmount:   r.TotalAmount,
		ReversalOf:    r.ReversalOf.String,
		CreatedAt:     r.CreatedAt,
	}
}

func (r entryRow) toEntry() ledger.Entry {
	return ledger.Entry{ID: r.ID, VoucherID: r.VoucherID, LedgerID: r.LedgerID, Amount: r.Amount, Side: ledger.Side(r.Side)}
}

var (
	selectGroups = psql.Select("id", "name", "category", "is_system").From("ledger_groups")

	selectLedgers = psql.Select(
		"l.id", "l.name", "l.group_id", "g.name AS group_name", "g.category", "l.opening_balance",
		"l.opening_balance_type", "l.current_balance", "l.is_system", "l.created_at",
	).From("ledgers l").Join("ledger_groups g ON g.id = l.group_id")

	selectVouchers = psql.Select(
		"v.id", "v.voucher_number", "v.date", "v.voucher_type", "v.narration", "v.total_amount",
		"v.reversal_of", "v.created_at",
	).From("vouchers v")

	// whitelisted ordering fields
	voucherOrderColumns = map[string]string{
		"date":           "v.date",
		"created_at":     "v.created_at",
		"voucher_number": "v.voucher_number",
		"total_amount":   "v.total_amount",
	}
)

type ledgerRepository struct {
	querier
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *sqlx.DB) ledger.Repository {
	return &ledgerRepository{querier{db: db}}
}

// Groups

func (repo *ledgerRepository) CreateGroup(ctx context.Context, grp ledger.Group) (ledger.Group, error) {
	qb := psql.Insert("ledger_groups").Columns("name", "category", "is_system").Values(grp.Name, string(grp.Category), grp.IsSystem)
	if err := repo.insert(ctx, qb, &grp.ID, "creating ledger group"); err != nil {
		return ledger.Group{}, err
	}
	return grp, nil
}

func (repo *ledgerRepository) GetGroup(ctx context.Context, id string) (ledger.Group, error) {
	var row groupRow
	if err := repo.get(ctx, &row, selectGroups.Where(sq.Eq{"id": id}), "ledger group", id); err != nil {
		return ledger.Group{}, err
	}
	return row.toGroup(), nil
}

func (repo *ledgerRepository) GetGroupByName(ctx context.Context, name string) (ledger.Group, error) {
	var row groupRow
	if err := repo.get(ctx, &row, selectGroups.Where("LOWER(name) = LOWER(?)", name), "ledger group", name); err != nil {
		return ledger.Group{}, err
	}
	return row.toGroup(), nil
}

func (repo *ledgerRepository) QueryGroups(ctx context.Context) ([]ledger.Group, error) {
	var rows []groupRow
	if err := repo.sel(ctx, &rows, selectGroups.OrderBy("name"), "querying ledger groups"); err != nil {
		return nil, err
	}
	groups := make([]ledger.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.toGroup())
	}
	return groups, nil
}

func (repo *ledgerRepository) DeleteGroup(ctx context.Context, id string) error {
	_, err := repo.run(ctx, psql.Delete("ledger_groups").Where(sq.Eq{"id": id}), "deleting ledger group")
	return err
}

func (repo *ledgerRepository) CountGroupLedgers(ctx context.Context, groupID string) (int, error) {
	var n int
	err := repo.get(ctx, &n, psql.Select("COUNT(*)").From("ledgers").Where(sq.Eq{"group_id": groupID}), "ledger group", groupID)
	return n, err
}

// Ledgers

func (repo *ledgerRepository) CreateLedger(ctx context.Context, ldg ledger.Ledger) (ledger.Ledger, error) {
	qb := psql.Insert("ledgers").
		Columns("name", "group_id", "opening_balance", "opening_balance_type", "current_balance", "is_system", "created_at").
		Values(ldg.Name, ldg.GroupID, ldg.OpeningBalance, string(ldg.OpeningBalanceType), ldg.CurrentBalance, ldg.IsSystem, ldg.CreatedAt)
	if err := repo.insert(ctx, qb, &ldg.ID, "creating ledger"); err != nil {
		return ledger.Ledger{}, err
	}
	return repo.GetLedger(ctx, ldg.ID)
}

func (repo *ledgerRepository) GetLedger(ctx context.Context, id string) (ledger.Ledger, error) {
	var row ledgerRow
	if err := repo.get(ctx, &row, selectLedgers.Where(sq.Eq{"l.id": id}), "ledger", id); err != nil {
		return ledger.Ledger{}, err
	}
	return row.toLedger(), nil
}

func (repo *ledgerRepository) GetLedgerByName(ctx context.Context, name string) (ledger.Ledger, error) {
	var row ledgerRow
	if err := repo.get(ctx, &row, selectLedgers.Where("LOWER(l.name) = LOWER(?)", name), "ledger", name); err != nil {
		return ledger.Ledger{}, err
	}
	return row.toLedger(), nil
}

func (repo *ledgerRepository) QueryLedgers(ctx context.Context, filter ledger.LedgerFilter) ([]ledger.Ledger, error) {
	qb := selectLedgers.OrderBy("l.name")
	if filter.GroupID != "" {
		qb = qb.Where(sq.Eq{"l.group_id": filter.GroupID})
	}
	if filter.Category != "" {
		qb = qb.Where(sq.Eq{"g.category": string(filter.Category)})
	}
	if filter.Search != "" {
		qb = qb.Where(sq.ILike{"l.name": "%" + filter.Search + "%"})
	}
	return repo.queryLedgers(ctx, qb, "querying ledgers")
}

func (repo *ledgerRepository) queryLedgers(ctx context.Context, qb sq.SelectBuilder, op string) ([]ledger.Ledger, error) {
	var rows []ledgerRow
	if err := repo.sel(ctx, &rows, qb, op); err != nil {
		return nil, err
	}
	ledgers := make([]ledger.Ledger, 0, len(rows))
	for _, r := range rows {
		ledgers = append(ledgers, r.toLedger())
	}
	return ledgers, nil
}

func (repo *ledgerRepository) LockLedgers(ctx context.Context, ids []string) ([]ledger.Ledger, error) {
	qb := selectLedgers.Where(sq.Eq{"l.id": ids}).OrderBy("l.id").Suffix("FOR UPDATE OF l")
	return repo.queryLedgers(ctx, qb, "locking ledgers")
}

func (repo *ledgerRepository) AddToLedgerBalance(ctx context.Context, id string, delta decimal.Decimal) error {
	qb := psql.Update("ledgers").Set("current_balance", sq.Expr("current_balance + ?", delta)).Where(sq.Eq{"id": id})
	n, err := repo.run(ctx, qb, "updating ledger balance")
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewNotFoundError("ledger", id)
	}
	return nil
}

func (repo *ledgerRepository) DeleteLedger(ctx context.Context, id string) error {
	_, err := repo.run(ctx, psql.Delete("ledgers").Where(sq.Eq{"id": id}), "deleting ledger")
	return err
}

func (repo *ledgerRepository) CountLedgerEntries(ctx context.Context, ledgerID string) (int, error) {
	var n int
	err := repo.get(ctx, &n, psql.Select("COUNT(*)").From("voucher_entries").Where(sq.Eq{"ledger_id": ledgerID}), "ledger", ledgerID)
	return n, err
}

// Vouchers

func (repo *ledgerRepository) NextVoucherSequence(ctx context.Context, vType ledger.VoucherType, year int) (int64, error) {
	qb := psql.Insert("voucher_sequences").
		Columns("voucher_type", "year", "last_value").
		Values(string(vType), year, 1).
		Suffix("ON CONFLICT (voucher_type, year) DO UPDATE SET last_value = voucher_sequences.last_value + 1 RETURNING last_value")
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, core.NewStorageError("building query", err)
	}
	var seq int64
	if err = repo.exec(ctx).GetContext(ctx, &seq, query, args...); err != nil {
		return 0, dbError("generating voucher sequence", err)
	}
	return seq, nil
}

func (repo *ledgerRepository) CreateVoucher(ctx context.Context, v ledger.Voucher) (ledger.Voucher, error) {
	reversalOf := null.NewString(v.ReversalOf, v.ReversalOf != "")
	qb := psql.Insert("vouchers").
		Columns("voucher_number", "date", "voucher_type", "narration", "total_amount", "reversal_of", "created_at").
		Values(v.VoucherNumber, v.Date, string(v.Type), v.Narration, v.TotalAmount, reversalOf, v.CreatedAt)
	if err := repo.insert(ctx, qb, &v.ID, "creating voucher"); err != nil {
		return ledger.Voucher{}, err
	}

	ins := psql.Insert("voucher_entries").Columns("voucher_id", "ledger_id", "amount", "side", "position").Suffix("RETURNING id, position")
	for i, e := range v.Entries {
		ins = ins.Values(v.ID, e.LedgerID, e.Amount, string(e.Side), i+1)
	}
	// RETURNING rows come back in no guaranteed order
	var created []struct {
		ID       string `db:"id"`
		Position int    `db:"position"`
	}
	if err := repo.sel(ctx, &created, ins, "creating voucher entries"); err != nil {
		return ledger.Voucher{}, err
	}
	for _, c := range created {
		if c.Position >= 1 && c.Position <= len(v.Entries) {
			v.Entries[c.Position-1].ID = c.ID
		}
	}
	for i := range v.Entries {
		v.Entries[i].VoucherID = v.ID
	}
	return v, nil
}

func (repo *ledgerRepository) GetVoucher(ctx context.Context, id string) (ledger.Voucher, error) {
	return repo.getVoucher(ctx, selectVouchers.Where(sq.Eq{"v.id": id}), "voucher", id)
}

func (repo *ledgerRepository) GetVoucherReversal(ctx context.Context, voucherID string) (ledger.Voucher, error) {
	return repo.getVoucher(ctx, selectVouchers.Where(sq.Eq{"v.reversal_of": voucherID}), "voucher reversal", voucherID)
}

func (repo *ledgerRepository) getVoucher(ctx context.Context, qb sq.SelectBuilder, entity, id string) (ledger.Voucher, error) {
	var row voucherRow
	if err := repo.get(ctx, &row, qb, entity, id); err != nil {
		return ledger.Voucher{}, err
	}
	vouchers, err := repo.withEntries(ctx, []voucherRow{row})
	if err != nil {
		return ledger.Voucher{}, err
	}
	return vouchers[0], nil
}

func (repo *ledgerRepository) QueryVouchers(ctx context.Context, filter ledger.VoucherFilter, ordering []core.DBOrdering) ([]ledger.Voucher, error) {
	qb := selectVouchers
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"v.voucher_type": string(filter.Type)})
	}
	if filter.From != nil {
		qb = qb.Where(sq.GtOrEq{"v.date": *filter.From})
	}
	if filter.To != nil {
		qb = qb.Where(sq.LtOrEq{"v.date": *filter.To})
	}
	if filter.LedgerID != "" {
		qb = qb.Where("EXISTS (SELECT 1 FROM voucher_entries e WHERE e.voucher_id = v.id AND e.ledger_id = ?)", filter.LedgerID)
	}

	orderBy := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := voucherOrderColumns[ord.Field]; ok {
			orderBy = append(orderBy, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(orderBy) == 0 {
		orderBy = []string{"v.date DESC", "v.created_at DESC"}
	}
	qb = qb.OrderBy(orderBy...)

	var rows []voucherRow
	if err := repo.sel(ctx, &rows, qb, "querying vouchers"); err != nil {
		return nil, err
	}
	return repo.withEntries(ctx, rows)
}

// withEntries loads the entries of every voucher in one query.
func (repo *ledgerRepository) withEntries(ctx context.Context, rows []voucherRow) ([]ledger.Voucher, error) {
	vouchers := make([]ledger.Voucher, 0, len(rows))
	if len(rows) == 0 {
		return vouchers, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	var entries []entryRow
	qb := psql.Select("id", "voucher_id", "ledger_id", "amount", "side").
		From("voucher_entries").
		Where(sq.Eq{"voucher_id": ids}).
		OrderBy("voucher_id", "position")
	if err := repo.sel(ctx, &entries, qb, "querying voucher entries"); err != nil {
		return nil, err
	}
	byVoucher := make(map[string][]ledger.Entry, len(rows))
	for _, e := range entries {
		byVoucher[e.VoucherID] = append(byVoucher[e.VoucherID], e.toEntry())
	}

	for _, r := range rows {
		v := r.toVoucher()
		v.Entries = byVoucher[r.ID]
		vouchers = append(vouchers, v)
	}
	return vouchers, nil
}

func (repo *ledgerRepository) QueryStatementLines(ctx context.Context, ledgerID string, from, to *time.Time) ([]ledger.StatementLine, error) {
	qb := psql.Select("v.id AS voucher_id", "v.voucher_number", "v.date", "v.narration", "e.side", "e.amount").
		From("voucher_entries e").
		Join("vouchers v ON v.id = e.voucher_id").
		Where(sq.Eq{"e.ledger_id": ledgerID}).
		OrderBy("v.date", "v.created_at", "e.position")
	if from != nil {
		qb = qb.Where(sq.GtOrEq{"v.date": *from})
	}
	if to != nil {
		qb = qb.Where(sq.LtOrEq{"v.date": *to})
	}

	var rows []statementRow
	if err := repo.sel(ctx, &rows, qb, "querying statement lines"); err != nil {
		return nil, err
	}
	lines := make([]ledger.StatementLine, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, ledger.StatementLine{
			VoucherID:     r.VoucherID,
			VoucherNumber: r.VoucherNumber,
			Date:          r.Date.UTC(),
			Narration:     r.Narration,
			Side:          ledger.Side(r.Side),
			Amount:        r.Amount,
		})
	}
	return lines, nil
}
