package sqlxrepos

import (
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres error codes: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// duplicates maps unique constraints to the field they protect. Other unique violations are conflicts.
var duplicates = map[string]string{
	"vouchers_voucher_number_key":                 "voucher_number",
	"student_fees_student_category_year_key":      "student fee",
	"ledgers_name_key":                            "ledger name",
	"ledger_groups_name_key":                      "ledger group name",
	"academic_years_name_key":                     "academic year name",
	"grades_name_key":                             "grade name",
	"classes_grade_id_name_key":                   "class name",
	"fee_categories_name_key":                     "fee category name",
	"enrollments_student_id_academic_year_id_key": "enrollment",
}

// dbError translates driver errors into core errors. Anything unrecognized is a core.StorageError.
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			if field, ok := duplicates[pqErr.Constraint]; ok {
				return core.NewDuplicateError(field, "")
			}
			return core.NewConflictError(strings.TrimPrefix(pqErr.Message, "duplicate key value violates "))
		case pqForeignKeyViolation:
			return core.NewNotFoundError(strings.TrimSuffix(pqErr.Table, "s"), "")
		case pqSerializationFailure, pqDeadlockDetected:
			return core.NewConflictError(pqErr.Message)
		}
	}
	return core.NewStorageError(op, err)
}

// notFound turns sql.ErrNoRows into a core.NotFoundError.
func notFound(err error, op, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewNotFoundError(entity, id)
	}
	return dbError(op, err)
}
