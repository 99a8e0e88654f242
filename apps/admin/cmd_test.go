package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core/ledger"
	"github.com/trezcool/shule/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Env, *bytes.Buffer) {
	e := testutil.NewEnv(t)
	out := new(bytes.Buffer)
	return &commandLine{conf: e.Conf, ledger: e.Ledger, out: out}, e, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.EqualError(t, err, tt.wantErrStr)
			default:
				assert.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func postReceipt(t *testing.T, e *testutil.Env, amount string) ledger.Voucher {
	t.Helper()
	v, err := e.Ledger.PostVoucher(context.Background(), ledger.NewVoucher{
		Type: ledger.Receipt,
		Date: testutil.Date(2026, 1, 15),
		Entries: []ledger.NewEntry{
			{LedgerID: e.LedgerByName(t, ledger.LedgerCash).ID, Side: ledger.Debit, Amount: testutil.Money(amount)},
			{LedgerID: e.LedgerByName(t, ledger.LedgerStudentFees).ID, Side: ledger.Credit, Amount: testutil.Money(amount)},
		},
	})
	require.NoError(t, err)
	return v
}

func Test_commandLine_usage(t *testing.T) {
	cli, _, out := setup(t)
	runCLITests(t, cli, out, []cliTest{
		{name: "no command", wantErr: errHelp, wantOut: "Usage:"},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp, wantOut: "Usage:"},
		{name: "help flag", args: []string{"token", "-h"}, wantErr: errHelp},
	})
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, out := setup(t)

	var gotCommand string
	gooseRunFunc = func(_ context.Context, _ *sqlx.DB, command string, args ...string) error {
		gotCommand = command
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "fee_waivers", "sql"}},
	})
	assert.Equal(t, "create", gotCommand)
}

func Test_commandLine_seed(t *testing.T) {
	cli, e, out := setup(t)
	runCLITests(t, cli, out, []cliTest{
		{name: "already seeded", args: []string{"seed"}, wantOut: "0 accounts created"},
	})

	ledgers, err := e.Ledger.QueryLedgers(context.Background(), ledger.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, ledgers, 7)
}

func Test_commandLine_trialBalance(t *testing.T) {
	cli, e, out := setup(t)
	postReceipt(t, e, "1250.50")

	dir := t.TempDir()
	path := filepath.Join(dir, "tb.xlsx")
	early := filepath.Join(dir, "early.xlsx")

	runCLITests(t, cli, out, []cliTest{
		{name: "no file", args: []string{"trialbalance"}, wantErr: errHelp},
		{name: "bad date", args: []string{"trialbalance", "-out", path, "-as-of", "15/01/2026"}, wantErrStr: `as-of must be a date (YYYY-MM-DD), got "15/01/2026"`},
		{name: "export", args: []string{"trialbalance", "-out", path}, wantOut: "7 ledgers written to " + path},
		{name: "export as of", args: []string{"trialbalance", "-out", early, "-as-of", "2026-01-01"}},
	})

	readRows := func(t *testing.T, path string) map[string][]string {
		t.Helper()
		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()

		rows, err := f.GetRows(trialBalanceSheet)
		require.NoError(t, err)
		require.Len(t, rows, 9) // header, 7 ledgers, totals
		assert.Equal(t, trialBalanceHeader, rows[0][:5])

		byName := make(map[string][]string, len(rows))
		for _, row := range rows[1:] {
			byName[row[0]] = row
		}
		return byName
	}

	rows := readRows(t, path)
	assert.Equal(t, []string{ledger.LedgerCash, "Current Assets", "ASSET", "1250.5", "0"}, rows[ledger.LedgerCash])
	assert.Equal(t, []string{ledger.LedgerStudentFees, "Direct Income", "INCOME", "0", "1250.5"}, rows[ledger.LedgerStudentFees])
	assert.Equal(t, []string{"Total", "", "", "1250.5", "1250.5"}, rows["Total"])

	rows = readRows(t, early)
	assert.Equal(t, []string{"Total", "", "", "0", "0"}, rows["Total"])
}

func Test_commandLine_token(t *testing.T) {
	cli, e, out := setup(t)
	runCLITests(t, cli, out, []cliTest{
		{name: "no subject", args: []string{"token", "-role", "admin"}, wantErr: errHelp},
		{name: "no role", args: []string{"token", "-subject", "bursar"}, wantErr: errHelp},
		{name: "unknown role", args: []string{"token", "-subject", "bursar", "-role", "admin,janitor"}, wantErrStr: `unknown role "janitor"`},
	})

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "token", "-subject", "bursar", "-role", "Accountant, admin"}))

	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(e.Conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bursar", claims.Subject)
	assert.Equal(t, []string{echoapi.RoleAccountant, echoapi.RoleAdmin}, claims.Roles)
}

func Test_commandLine_verify(t *testing.T) {
	cli, e, out := setup(t)
	postReceipt(t, e, "300")

	runCLITests(t, cli, out, []cliTest{
		{name: "balanced", args: []string{"verify"}, wantOut: "all ledger balances match their entries"},
	})

	cash := e.LedgerByName(t, ledger.LedgerCash)
	require.NoError(t, e.LedgerRepo.AddToLedgerBalance(context.Background(), cash.ID, testutil.Money("1")))

	runCLITests(t, cli, out, []cliTest{
		{name: "drifted", args: []string{"verify"}, wantErr: errUnbalanced, wantOut: "Cash: cached 301.00, computed 300.00"},
	})
}
