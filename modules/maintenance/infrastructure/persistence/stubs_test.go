package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubTx struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	statements   []string
}

func (s *stubTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("copy not implemented")
}

func (s *stubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	var results pgx.BatchResults
	return results
}

func (s *stubTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	s.statements = append(s.statements, sql)
	if s.execFunc == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return s.execFunc(ctx, sql, arguments...)
}

func (s *stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.statements = append(s.statements, sql)
	if s.queryFunc == nil {
		return nil, errors.New("query not implemented")
	}
	return s.queryFunc(ctx, sql, args...)
}

func (s *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.statements = append(s.statements, sql)
	if s.queryRowFunc == nil {
		return stubRow{scan: func(dest ...any) error { return errors.New("query row not implemented") }}
	}
	return s.queryRowFunc(ctx, sql, args...)
}

// stubRows feeds each row through the same scan func a stubRow would use.
type stubRows struct {
	rows []func(dest ...any) error
	idx  int
	err  error
}

func (r *stubRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("no current row to scan")
	}
	return r.rows[r.idx-1](dest...)
}

func (r *stubRows) Values() ([]any, error)                       { return nil, fmt.Errorf("values not implemented") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) Close()                                       {}
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return errors.New("scan not implemented")
	}
	return r.scan(dest...)
}
