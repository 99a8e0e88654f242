package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatal(err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	defer logger.Sync()

	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()

	cli := commandLine{
		conf:   conf,
		db:     db,
		ledger: ledger.NewService(sqlxrepos.NewLedgerRepository(db), database.NewTransactor(db), logger),
		out:    os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("%s failed: %v", os.Args[1], err), err)
		}
		logger.Sync()
		db.Close()
		os.Exit(1)
	}
}
