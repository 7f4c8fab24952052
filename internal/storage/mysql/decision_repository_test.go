package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
)

func TestMemoryDecisionRepositoryPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryDecisionRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		rec := &DecisionRecord{Brand: fmt.Sprintf("brand-%d", i), Width: 20, Height: 20, PlacementID: fmt.Sprintf("p-%d", i), CreatedAt: int64(i)}
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if rec.ID != int64(i) {
			t.Fatalf("expected id %d, got %d", i, rec.ID)
		}
	}

	reopened, err := NewMemoryDecisionRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	list, err := reopened.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].Brand != "brand-3" || list[1].Brand != "brand-2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	next := &DecisionRecord{Brand: "brand-4"}
	if err := reopened.Save(ctx, next); err != nil {
		t.Fatalf("save after reopen failed: %v", err)
	}
	if next.ID != 4 {
		t.Fatalf("ids must continue after reload, got %d", next.ID)
	}
}

func TestSQLDecisionRepositorySave(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertDecisionSQL, mockResult{lastInsertID: 42, rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLDecisionRepository{db: db}
	rec := &DecisionRecord{Brand: "NebulaBrew", Style: "neon", Width: 20, Height: 20, PlacementID: "p", CreatedAt: 1}
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if rec.ID != 42 {
		t.Fatalf("expected id 42, got %d", rec.ID)
	}
}

func TestSQLDecisionRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "brand", "style", "width", "height", "x", "y", "placement_id", "image_id", "cost_atomic", "summary", "created_at"},
		values: [][]driver.Value{
			{int64(2), "b2", "neon", int64(20), int64(20), int64(10), int64(30), "p2", "i2", int64(400000), "s2", int64(20)},
			{int64(1), "b1", "flat", int64(10), int64(10), int64(0), int64(0), "p1", "i1", int64(100000), "s1", int64(10)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{queryOp(listDecisionsSQL, rows)})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SQLDecisionRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != 2 || list[0].Y != 30 || list[1].CostAtomic != 100000 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRunMigrationsAppliesPending(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil || len(files) == 0 {
		t.Fatalf("expected embedded migrations: %v", err)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
	}
	for _, m := range files {
		ops = append(ops, beginOp())
		for _, stmt := range m.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	applied := mockRowsData{columns: []string{"version"}}
	for _, m := range files {
		applied.values = append(applied.values, []driver.Value{m.version})
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp("", mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, applied),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if got := parseMigrationVersion("0001_create_decisions.sql"); got != "0001" {
		t.Fatalf("unexpected version %s", got)
	}
	if got := splitSQLStatements("a;; b ;"); len(got) != 2 {
		t.Fatalf("unexpected statements %v", got)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
