package ledger

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// System ledgers used by the fee workflow.
const (
	LedgerCash          = "Cash"
	LedgerBank          = "Bank"
	LedgerStudentFees   = "Student Fees"
	LedgerFeeDiscounts  = "Fee Discounts"
	LedgerFeesAdvance   = "Fees Received in Advance"
	LedgerSalaries      = "Salaries"
	LedgerCapital       = "Capital"
	groupCurrentAssets  = "Current Assets"
	groupCurrentLiab    = "Current Liabilities"
	groupDirectIncome   = "Direct Income"
	groupIndirectExpens = "Indirect Expenses"
	groupCapital        = "Capital Account"
)

var chartOfAccounts = []struct {
	group    string
	category Category
	ledgers  []string
}{
	{group: groupCurrentAssets, category: CategoryAsset, ledgers: []string{LedgerCash, LedgerBank}},
	{group: groupCurrentLiab, category: CategoryLiability, ledgers: []string{LedgerFeesAdvance}},
	{group: groupDirectIncome, category: CategoryIncome, ledgers: []string{LedgerStudentFees}},
	{group: groupIndirectExpens, category: CategoryExpense, ledgers: []string{LedgerFeeDiscounts, LedgerSalaries}},
	{group: groupCapital, category: CategoryEquity, ledgers: []string{LedgerCapital}},
}

// SeedChartOfAccounts creates the system groups and ledgers that do not exist yet. Safe to re-run.
// Returns the number of ledgers created.
func (svc *Service) SeedChartOfAccounts(ctx context.Context) (int, error) {
	var created int
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		for _, entry := range chartOfAccounts {
			grp, err := svc.repo.GetGroupByName(ctx, entry.group)
			if core.IsNotFound(err) {
				grp, err = svc.repo.CreateGroup(ctx, Group{Name: entry.group, Category: entry.category, IsSystem: true})
			}
			if err != nil {
				return errors.Wrapf(err, "seeding group %q", entry.group)
			}

			for _, name := range entry.ledgers {
				if _, err = svc.repo.GetLedgerByName(ctx, name); err == nil {
					continue
				} else if !core.IsNotFound(err) {
					return errors.Wrapf(err, "seeding ledger %q", name)
				}
				if _, err = svc.createLedger(ctx, grp, Ledger{Name: name, IsSystem: true}); err != nil {
					return errors.Wrapf(err, "seeding ledger %q", name)
				}
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		svc.logger.Info("chart of accounts seeded", map[string]interface{}{"ledgers_created": created})
	}
	return created, nil
}
