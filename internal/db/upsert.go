package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Staging describes a keyed upsert routed through a temp table.
type Staging struct {
	Table   string   // target table, optionally schema-qualified
	Key     string   // text column with a unique constraint
	IDCol   string   // surrogate id returned per key; defaults to "id"
	Columns []string // columns written, Key included
}

func (s Staging) validate() error {
	if s.Table == "" {
		return eris.New("db: stage: table required")
	}
	if len(s.Columns) == 0 {
		return eris.New("db: stage: no columns specified")
	}
	for _, c := range s.Columns {
		if c == s.Key {
			return nil
		}
	}
	return eris.Errorf("db: stage: key %q not among columns", s.Key)
}

func (s Staging) idCol() string {
	if s.IDCol == "" {
		return "id"
	}
	return s.IDCol
}

func (s Staging) tempName() string {
	return "_stage_" + strings.ReplaceAll(s.Table, ".", "_")
}

// UpsertIDs writes rows into the target table keyed by s.Key and returns the
// surrogate id of every written key. Rows are COPYed into a temp table first;
// when a key repeats, the later row wins.
func UpsertIDs(ctx context.Context, pool Pool, s Staging, rows [][]any) (map[string]int64, error) {
	if len(rows) == 0 {
		return map[string]int64{}, nil
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "db: stage: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := ident(s.tempName())
	target := qualified(s.Table)

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", temp, target,
	)); err != nil {
		return nil, eris.Wrapf(err, "db: stage: create temp table for %s", s.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{s.tempName()}, s.Columns, pgx.CopyFromRows(rows)); err != nil {
		return nil, eris.Wrapf(err, "db: stage: COPY into temp table for %s", s.Table)
	}

	// One statement may not update the same target row twice.
	key := ident(s.Key)
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s a USING %s b WHERE a.ctid < b.ctid AND a.%s = b.%s", temp, temp, key, key,
	)); err != nil {
		return nil, eris.Wrapf(err, "db: stage: dedup temp table for %s", s.Table)
	}

	cols := make([]string, len(s.Columns))
	var sets []string
	for i, c := range s.Columns {
		cols[i] = ident(c)
		if c != s.Key {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", cols[i], cols[i]))
		}
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	colList := strings.Join(cols, ", ")

	ids, err := collectIDs(ctx, tx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s RETURNING %s, %s",
		target, colList, colList, temp, key, action, ident(s.idCol()), key,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "db: stage: insert into %s", s.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "db: stage: commit tx")
	}
	return ids, nil
}

func collectIDs(ctx context.Context, q Querier, sql string) (map[string]int64, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, err
		}
		ids[key] = id
	}
	return ids, rows.Err()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// qualified quotes a table name, splitting "schema.table".
func qualified(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return ident(table)
}
