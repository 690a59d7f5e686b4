// Package sql provides stream adapters for database/sql: a query source,
// statement flows and a statement sink. Every stage runs on its own async
// island since database calls block.
package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Querier runs queries. *sql.DB, *sql.Conn and *sql.Tx implement it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer runs statements. *sql.DB, *sql.Conn and *sql.Tx implement it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner is a function that scans a row into a value.
type Scanner[T any] func(*sql.Rows) (T, error)

// ExecResult contains the result of an exec operation.
type ExecResult struct {
	LastInsertId int64
	RowsAffected int64
}

func toExecResult(res sql.Result) ExecResult {
	lastID, _ := res.LastInsertId()
	rowsAffected, _ := res.RowsAffected()
	return ExecResult{LastInsertId: lastID, RowsAffected: rowsAffected}
}

// Query creates a Source running query when first pulled and emitting one
// element per row. A scanner error is handed to the supervision strategy;
// resuming skips the row.
func Query[T any](db Querier, query string, scanner Scanner[T], args ...any) core.Source[T, core.NotUsed] {
	return querySource("sqlQuery", db, func() (string, []any, error) { return query, args, nil }, scanner)
}

// QueryBuilder is Query with the statement built by a squirrel builder.
func QueryBuilder[T any](db Querier, builder squirrel.Sqlizer, scanner Scanner[T]) core.Source[T, core.NotUsed] {
	return querySource("sqlQuery", db, builder.ToSql, scanner)
}

func querySource[T any](name string, db Querier, build func() (string, []any, error), scanner Scanner[T]) core.Source[T, core.NotUsed] {
	return core.SourceStage(name, func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		var rows *sql.Rows

		open := func() error {
			query, args, err := build()
			if err != nil {
				return fmt.Errorf("build query: %w", err)
			}
			rows, err = db.QueryContext(l.Context(), query, args...)
			return err
		}

		l.PostStop = func() {
			if rows != nil {
				_ = rows.Close()
			}
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				if rows == nil {
					if err := open(); err != nil {
						l.FailStage(err)
						return
					}
				}
				for rows.Next() {
					v, err := scanner(rows)
					if err != nil {
						if !l.Supervise(err, nil) {
							return
						}
						continue
					}
					core.Push(l, out, v)
					return
				}
				if err := rows.Err(); err != nil {
					l.FailStage(err)
					return
				}
				l.CompleteStage()
			},
		})
		return l, core.NotUsed{}
	}).Async()
}

// Exec creates a Flow running a statement for every element, with the
// arguments produced by binder, and emitting its result. A failed statement
// is handed to the supervision strategy; resuming drops the element.
func Exec[T any](db Execer, query string, binder func(T) []any) core.Flow[T, ExecResult, core.NotUsed] {
	return execFlow("sqlExec", db, func(v T) (string, []any, error) {
		return query, binder(v), nil
	})
}

// InsertBatch creates a Flow inserting every batch of elements into table
// with a single multi-row INSERT. values returns the column values of one
// element, in the order of columns. Empty batches are skipped.
func InsertBatch[T any](db Execer, table string, columns []string, values func(T) []any) core.Flow[[]T, ExecResult, core.NotUsed] {
	return execFlow("sqlInsertBatch", db, func(batch []T) (string, []any, error) {
		if len(batch) == 0 {
			return "", nil, nil
		}
		b := squirrel.Insert(table).Columns(columns...)
		for _, v := range batch {
			b = b.Values(values(v)...)
		}
		return b.ToSql()
	})
}

func execFlow[T any](name string, db Execer, build func(T) (string, []any, error)) core.Flow[T, ExecResult, core.NotUsed] {
	return core.FlowStage(name, func(_ core.Attributes, in core.Inlet[T], out core.Outlet[ExecResult]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				query, args, err := build(core.Grab(l, in))
				if err == nil && query == "" {
					l.Pull(in)
					return
				}
				var res sql.Result
				if err == nil {
					res, err = db.ExecContext(l.Context(), query, args...)
				}
				if err != nil {
					if l.Supervise(err, nil) {
						l.Pull(in)
					}
					return
				}
				core.Push(l, out, toExecResult(res))
			},
		}, core.PullOnDemand(l, in))
		return l
	}).Async()
}

// ExecSink creates a Sink running a statement for every element. It
// materializes the total number of affected rows, available once upstream
// completes.
func ExecSink[T any](db Execer, query string, binder func(T) []any) core.Sink[T, *core.Future[int64]] {
	return core.SinkStage("sqlExecSink", func(_ core.Attributes, in core.Inlet[T]) (*core.Logic, *core.Future[int64]) {
		l := core.NewSinkLogic(in)
		p := core.NewPromise[int64]()
		var total int64

		l.PreStart = func() { l.Pull(in) }
		l.PostStop = func() { p.Fail(l.AbortCause()) }
		l.SetInHandler(in, core.InHandler{
			OnPush: func() {
				res, err := db.ExecContext(l.Context(), query, binder(core.Grab(l, in))...)
				if err != nil {
					if !l.Supervise(err, nil) {
						p.Fail(err)
						return
					}
				} else {
					n, _ := res.RowsAffected()
					total += n
				}
				l.Pull(in)
			},
			OnUpstreamFinish: func() {
				p.Success(total)
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				p.Fail(err)
				l.FailStage(err)
			},
		})
		return l, p.Future()
	}).Async()
}

// Transaction creates a Source running fn within a transaction and emitting
// its result. The transaction is rolled back when fn fails and committed
// otherwise.
func Transaction[T any](db *sql.DB, fn func(tx *sql.Tx) (T, error)) core.Source[T, core.NotUsed] {
	return core.SourceStage("sqlTransaction", func(_ core.Attributes, out core.Outlet[T]) (*core.Logic, core.NotUsed) {
		l := core.NewSourceLogic(out)
		run := func() (T, error) {
			var zero T
			tx, err := db.BeginTx(l.Context(), nil)
			if err != nil {
				return zero, err
			}
			v, err := fn(tx)
			if err != nil {
				_ = tx.Rollback()
				return zero, err
			}
			if err := tx.Commit(); err != nil {
				return zero, err
			}
			return v, nil
		}
		l.SetOutHandler(out, core.OutHandler{
			OnPull: func() {
				v, err := run()
				if err != nil {
					l.FailStage(err)
					return
				}
				core.Push(l, out, v)
				l.CompleteStage()
			},
		})
		return l, core.NotUsed{}
	}).Async()
}

// ScanStrings is a Scanner reading every column of a row as a string. NULL
// reads as "".
func ScanStrings(rows *sql.Rows) ([]string, error) {
	values, cols, err := scanAny(rows)
	if err != nil {
		return nil, err
	}
	result := make([]string, len(cols))
	for i, v := range values {
		switch val := v.(type) {
		case nil:
			result[i] = ""
		case []byte:
			result[i] = string(val)
		case string:
			result[i] = val
		default:
			result[i] = fmt.Sprint(val)
		}
	}
	return result, nil
}

// ScanMap is a Scanner reading a row into a map keyed by column name.
func ScanMap(rows *sql.Rows) (map[string]any, error) {
	values, cols, err := scanAny(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any, len(cols))
	for i, col := range cols {
		result[col] = values[i]
	}
	return result, nil
}

func scanAny(rows *sql.Rows) ([]any, []string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, nil, err
	}
	return values, cols, nil
}

// QueryStrings queries rows as string slices, see ScanStrings.
func QueryStrings(db Querier, query string, args ...any) core.Source[[]string, core.NotUsed] {
	return Query(db, query, ScanStrings, args...)
}

// QueryMaps queries rows as maps, see ScanMap.
func QueryMaps(db Querier, query string, args ...any) core.Source[map[string]any, core.NotUsed] {
	return Query(db, query, ScanMap, args...)
}
