package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
)

var (
	errHelp       = errors.New("help provided")
	errUnbalanced = errors.New("ledger balances do not match their entries")
)

type commandLine struct {
	conf   *core.Config
	db     *sqlx.DB
	ledger *ledger.Service
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                        - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  seed                                          - create the system account groups and ledgers")
	fmt.Fprintln(cli.out, "  trialbalance -out FILE.xlsx [-as-of DATE]     - export the trial balance to a spreadsheet")
	fmt.Fprintln(cli.out, "  token -subject NAME -role admin[,accountant]  - issue an API access token")
	fmt.Fprintln(cli.out, "  verify                                        - recompute ledger balances from posted entries")
}

func (cli *commandLine) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return errHelp
		}
		return err
	}
	return nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "seed":
		n, err := cli.ledger.SeedChartOfAccounts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d accounts created\n", n)
		return nil

	case "trialbalance":
		cmd := cli.flagSet("trialbalance")
		out := cmd.String("out", "", "The .xlsx file to write.")
		asOf := cmd.String("as-of", "", "Balance date (YYYY-MM-DD). Defaults to all posted entries.")
		if err := parseFlags(cmd, args[2:]); err != nil {
			return err
		}
		if *out == "" {
			cmd.Usage()
			return errHelp
		}
		var date *time.Time
		if *asOf != "" {
			d, err := time.Parse("2006-01-02", *asOf)
			if err != nil {
				return fmt.Errorf("as-of must be a date (YYYY-MM-DD), got %q", *asOf)
			}
			date = &d
		}
		return cli.exportTrialBalance(ctx, *out, date)

	case "token":
		cmd := cli.flagSet("token")
		subject := cmd.String("subject", "", "Who the token is issued to.")
		roles := cmd.String("role", "", "Comma separated roles: admin, accountant.")
		if err := parseFlags(cmd, args[2:]); err != nil {
			return err
		}
		if *subject == "" || *roles == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.token(*subject, strings.Split(*roles, ","))

	case "verify":
		return cli.verify(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) token(subject string, roles []string) error {
	var clean []string
	for _, role := range roles {
		role = core.CleanString(role, true /* lower */)
		switch role {
		case "":
			continue
		case echoapi.RoleAdmin, echoapi.RoleAccountant:
			clean = append(clean, role)
		default:
			return fmt.Errorf("unknown role %q", role)
		}
	}
	tkn, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, subject, clean...))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, tkn)
	return nil
}

func (cli *commandLine) verify(ctx context.Context) error {
	mismatches, err := cli.ledger.VerifyBalances(ctx)
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		fmt.Fprintln(cli.out, "all ledger balances match their entries")
		return nil
	}
	for _, m := range mismatches {
		fmt.Fprintf(cli.out, "%s: cached %s, computed %s\n",
			m.Ledger.Name, m.Ledger.CurrentBalance.StringFixed(2), m.Computed.StringFixed(2))
	}
	return errUnbalanced
}
