package core

import "context"

type (
	// Transactor runs fn inside a single storage transaction carried by the context passed to fn.
	// The transaction is committed when fn returns nil and rolled back otherwise.
	// Calling InTx with a context that already carries a transaction joins it.
	Transactor interface {
		InTx(ctx context.Context, fn func(ctx context.Context) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
