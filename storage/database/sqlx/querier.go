package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/storage/database"
)

// querier runs squirrel queries on the transaction carried by the context, or on the pool.
type querier struct {
	db *sqlx.DB
}

func (q querier) exec(ctx context.Context) database.Executor {
	return database.Exec(ctx, q.db)
}

func (q querier) get(ctx context.Context, dest interface{}, qb sq.Sqlizer, entity, id string) error {
	query, args, err := qb.ToSql()
	if err != nil {
		return core.NewStorageError("building query", err)
	}
	if err = q.exec(ctx).GetContext(ctx, dest, query, args...); err != nil {
		return notFound(err, "getting "+entity, entity, id)
	}
	return nil
}

func (q querier) sel(ctx context.Context, dest interface{}, qb sq.Sqlizer, op string) error {
	query, args, err := qb.ToSql()
	if err != nil {
		return core.NewStorageError("building query", err)
	}
	return dbError(op, q.exec(ctx).SelectContext(ctx, dest, query, args...))
}

func (q querier) run(ctx context.Context, qb sq.Sqlizer, op string) (int64, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, core.NewStorageError("building query", err)
	}
	res, err := q.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, dbError(op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// insert runs an INSERT ... RETURNING id and stores the new id in id.
func (q querier) insert(ctx context.Context, qb sq.InsertBuilder, id *string, op string) error {
	query, args, err := qb.Suffix("RETURNING id").ToSql()
	if err != nil {
		return core.NewStorageError("building query", err)
	}
	return dbError(op, q.exec(ctx).GetContext(ctx, id, query, args...))
}
