// Package testutil wires the services on the in-memory store and creates fixtures for tests.
package testutil

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database/inmem"
)

type Env struct {
	Conf        *core.Config
	DB          *inmemdb.DB
	Logger      core.Logger
	Mailer      *emailsvc.ConsoleServiceMock
	LedgerRepo  ledger.Repository
	StudentRepo student.Repository
	Ledger      *ledger.Service
	School      *student.Service
}

func Config() *core.Config {
	return &core.Config{
		Debug:            true,
		TestMode:         true,
		Env:              "TEST",
		Build:            "test",
		AppName:          "Shule",
		SecretKey:        "test-secret-key",
		DefaultFromEmail: mail.Address{Name: "Shule", Address: "noreply@shule.test"},
		Server: core.ServerConfig{
			Host:               "localhost",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Database: core.DatabaseConfig{Timeout: 5 * time.Second},
		Redis:    core.RedisConfig{LockExpiry: 2 * time.Second},
	}
}

func NewLogger(t testing.TB) core.Logger {
	return logsvc.NewRollbarLogger(zaptest.NewLogger(t), Config())
}

// NewEnv returns services backed by a fresh in-memory store with the chart of accounts seeded.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	e := &Env{Conf: Config(), DB: inmemdb.Open(), Logger: NewLogger(t)}
	e.Mailer = emailsvc.NewConsoleServiceMock(e.Conf, e.Logger)
	e.LedgerRepo = inmemdb.NewLedgerRepository(e.DB)
	e.StudentRepo = inmemdb.NewStudentRepository(e.DB)
	e.Ledger = ledger.NewService(e.LedgerRepo, e.DB, e.Logger)
	e.School = student.NewService(e.StudentRepo, e.DB, e.Ledger, e.Mailer, e.Logger, e.Conf)

	if _, err := e.Ledger.SeedChartOfAccounts(context.Background()); err != nil {
		t.Fatalf("SeedChartOfAccounts() failed: %v", err)
	}
	return e
}

func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (e *Env) LedgerByName(t testing.TB, name string) ledger.Ledger {
	t.Helper()
	ldg, err := e.Ledger.GetLedgerByName(context.Background(), name)
	if err != nil {
		t.Fatalf("LedgerByName(%q) failed: %v", name, err)
	}
	return ldg
}

func (e *Env) Year(t testing.TB, name string, start time.Time, current bool) student.AcademicYear {
	t.Helper()
	year, err := e.School.CreateAcademicYear(context.Background(), student.NewAcademicYear{
		Name:      name,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, -1),
		IsCurrent: current,
	})
	if err != nil {
		t.Fatalf("Year(%q) failed: %v", name, err)
	}
	return year
}

func (e *Env) Grade(t testing.TB, name string, level int) student.Grade {
	t.Helper()
	grade, err := e.School.CreateGrade(context.Background(), student.NewGrade{Name: name, Level: level})
	if err != nil {
		t.Fatalf("Grade(%q) failed: %v", name, err)
	}
	return grade
}

func (e *Env) Class(t testing.TB, gradeID, name string) student.Class {
	t.Helper()
	class, err := e.School.CreateClass(context.Background(), student.NewClass{GradeID: gradeID, Name: name})
	if err != nil {
		t.Fatalf("Class(%q) failed: %v", name, err)
	}
	return class
}

func (e *Env) Student(t testing.TB, classID, name, guardianEmail string) student.Student {
	t.Helper()
	st, err := e.School.CreateStudent(context.Background(), student.NewStudent{
		Name:          name,
		GuardianName:  "Guardian of " + name,
		GuardianEmail: guardianEmail,
		ClassID:       classID,
	})
	if err != nil {
		t.Fatalf("Student(%q) failed: %v", name, err)
	}
	return st
}

func (e *Env) FeeCategory(t testing.TB, name, gradeID, amount string, installments int, dueDate time.Time) student.FeeCategory {
	t.Helper()
	cat, err := e.School.CreateFeeCategory(context.Background(), student.NewFeeCategory{
		Name:             name,
		DueDate:          dueDate,
		InstallmentCount: installments,
		Amounts:          []student.GradeAmount{{GradeID: gradeID, Amount: Money(amount)}},
	})
	if err != nil {
		t.Fatalf("FeeCategory(%q) failed: %v", name, err)
	}
	return cat
}

// Pay records a payment on a fee into Cash / Student Fees.
func (e *Env) Pay(t testing.TB, feeID, amount string) student.PaymentReceipt {
	t.Helper()
	receipt, err := e.School.RecordFeePayment(context.Background(), student.FeePayment{
		StudentFeeID:    feeID,
		Amount:          Money(amount),
		DepositLedgerID: e.LedgerByName(t, ledger.LedgerCash).ID,
		IncomeLedgerID:  e.LedgerByName(t, ledger.LedgerStudentFees).ID,
	})
	if err != nil {
		t.Fatalf("Pay(%s) failed: %v", amount, err)
	}
	return receipt
}
