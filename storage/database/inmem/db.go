// Package inmemdb is a map-backed implementation of the repositories, used by unit tests and local runs
// without Postgres. Transactions are serialized and rolled back by restoring a snapshot.
package inmemdb

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
	"github.com/trezcool/shule/core/student"
)

type txKey struct{}

type (
	DB struct {
		mu   sync.RWMutex // guards tables
		txMu sync.Mutex   // serializes transactions
		t    *tables
	}

	tables struct {
		groups      map[string]ledger.Group
		ledgers     map[string]ledger.Ledger
		vouchers    map[string]ledger.Voucher
		voucherSeqs map[string]int64

		years        map[string]student.AcademicYear
		grades       map[string]student.Grade
		classes      map[string]student.Class
		students     map[string]student.Student
		enrollments  map[string]student.Enrollment
		categories   map[string]student.FeeCategory
		fees         map[string]student.StudentFee
		installments map[string]student.Installment

		seq int64 // insertion order
		ord map[string]int64
	}
)

var _ core.Transactor = (*DB)(nil) // interface compliance check

func Open() *DB {
	return &DB{t: newTables()}
}

func newTables() *tables {
	return &tables{
		groups:       make(map[string]ledger.Group),
		ledgers:      make(map[string]ledger.Ledger),
		vouchers:     make(map[string]ledger.Voucher),
		voucherSeqs:  make(map[string]int64),
		years:        make(map[string]student.AcademicYear),
		grades:       make(map[string]student.Grade),
		classes:      make(map[string]student.Class),
		students:     make(map[string]student.Student),
		enrollments:  make(map[string]student.Enrollment),
		categories:   make(map[string]student.FeeCategory),
		fees:         make(map[string]student.StudentFee),
		installments: make(map[string]student.Installment),
		ord:          make(map[string]int64),
	}
}

// clone copies every table. Stored values are never mutated in place, so copying the maps is enough.
func (t *tables) clone() *tables {
	c := newTables()
	copyMap(c.groups, t.groups)
	copyMap(c.ledgers, t.ledgers)
	copyMap(c.vouchers, t.vouchers)
	copyMap(c.voucherSeqs, t.voucherSeqs)
	copyMap(c.years, t.years)
	copyMap(c.grades, t.grades)
	copyMap(c.classes, t.classes)
	copyMap(c.students, t.students)
	copyMap(c.enrollments, t.enrollments)
	copyMap(c.categories, t.categories)
	copyMap(c.fees, t.fees)
	copyMap(c.installments, t.installments)
	copyMap(c.ord, t.ord)
	c.seq = t.seq
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// newID returns a fresh id and records its insertion order.
func (t *tables) newID() string {
	id := uuid.New().String()
	t.seq++
	t.ord[id] = t.seq
	return id
}

func (t *tables) before(id1, id2 string) bool { return t.ord[id1] < t.ord[id2] }

// InTx runs fn while holding the transaction lock; when fn fails every table is restored.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx) // join the outer transaction
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	snapshot := db.t.clone()
	db.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		db.mu.Lock()
		db.t = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

// Reset drops every row.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t = newTables()
}

func (db *DB) read(fn func(t *tables) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(db.t)
}

func (db *DB) write(fn func(t *tables) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.t)
}
