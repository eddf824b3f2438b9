// Package db holds Postgres write helpers shared by the store.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Owned names a child table whose rows belong to one parent id.
type Owned struct {
	Table    string
	OwnerCol string
	Columns  []string
}

// Replace deletes every row owned by ownerID and COPYs rows in their place.
// Run it inside a transaction so readers never see the gap.
func Replace(ctx context.Context, q Querier, t Owned, ownerID int64, rows [][]any) (int64, error) {
	if _, err := q.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = $1", ident(t.Table), ident(t.OwnerCol)),
		ownerID,
	); err != nil {
		return 0, eris.Wrapf(err, "db: clear %s for %d", t.Table, ownerID)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{t.Table}, t.Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", t.Table)
	}
	return n, nil
}
