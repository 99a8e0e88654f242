package main

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/trezcool/shule/core/ledger"
)

const trialBalanceSheet = "Trial Balance"

var trialBalanceHeader = []string{"Ledger", "Group", "Category", "Debit", "Credit"}

func (cli *commandLine) exportTrialBalance(ctx context.Context, path string, asOf *time.Time) error {
	tb, err := cli.ledger.TrialBalance(ctx, asOf)
	if err != nil {
		return err
	}
	if err := writeTrialBalance(tb, path); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d ledgers written to %s\n", len(tb.Rows), path)
	if !tb.Balanced() {
		fmt.Fprintf(cli.out, "warning: debits (%s) do not equal credits (%s)\n",
			tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2))
	}
	return nil
}

func writeTrialBalance(tb ledger.TrialBalance, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", trialBalanceSheet); err != nil {
		return err
	}
	for i, header := range trialBalanceHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(trialBalanceSheet, cell, header); err != nil {
			return err
		}
	}

	row := 2
	for _, r := range tb.Rows {
		values := []interface{}{r.LedgerName, r.GroupName, string(r.Category), r.Debit.InexactFloat64(), r.Credit.InexactFloat64()}
		if err := f.SetSheetRow(trialBalanceSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return err
		}
		row++
	}
	totals := []interface{}{"Total", "", "", tb.TotalDebit.InexactFloat64(), tb.TotalCredit.InexactFloat64()}
	if err := f.SetSheetRow(trialBalanceSheet, fmt.Sprintf("A%d", row), &totals); err != nil {
		return err
	}

	if tb.AsOf != nil {
		if err := f.SetCellValue(trialBalanceSheet, "G1", "As of "+tb.AsOf.Format("2006-01-02")); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
