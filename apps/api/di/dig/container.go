package dig_container

import (
	"context"
	"fmt"
	"log"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
	"github.com/trezcool/shule/core/student"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	rediscache "github.com/trezcool/shule/storage/cache/redis"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newZap(conf *core.Config) (*zap.Logger, error) {
	return logsvc.NewZap(conf)
}

func newLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(zl.Named("db"), conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newSchoolService(
	repo student.Repository,
	tx core.Transactor,
	ledgerSvc *ledger.Service,
	mailer core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *student.Service {
	svc := student.NewService(repo, tx, ledgerSvc, mailer, logger, conf)
	if conf.Redis.Addr != "" {
		svc.UseClassLocker(rediscache.NewClassLocker(rediscache.NewClient(conf), conf, logger))
	}
	return svc
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	ledgerSvc *ledger.Service,
	school *student.Service,
	validate *validator.Validate,
	translator ut.Translator,
	metrics *echoapi.Metrics,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		Ledger:     ledgerSvc,
		School:     school,
		Validate:   validate,
		Translator: translator,
		Metrics:    metrics,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(database.NewTransactor, dig.As(new(core.Transactor))))
	must(c.Provide(sqlxrepos.NewLedgerRepository))
	must(c.Provide(sqlxrepos.NewStudentRepository))
	must(c.Provide(ledger.NewService))
	must(c.Provide(newEmailService))
	must(c.Provide(newSchoolService))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(echoapi.NewMetrics))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
