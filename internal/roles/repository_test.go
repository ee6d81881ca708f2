package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/portal/internal/shared"
)

type textRow struct {
	value pgtype.Text
	err   error
}

func (r textRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("expected 1 destination, got %d", len(dest))
	}
	target, ok := dest[0].(*pgtype.Text)
	if !ok {
		return fmt.Errorf("unexpected destination %T", dest[0])
	}
	*target = r.value
	return nil
}

type rowQuerier struct {
	row  pgx.Row
	sql  string
	args []any
}

func (q *rowQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (q *rowQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

func TestPostgresRPCUpdateRoleCallsFunction(t *testing.T) {
	q := &rowQuerier{row: textRow{value: pgtype.Text{String: "true", Valid: true}}}
	rpc := NewPostgresRPC(q, "")

	require.NoError(t, rpc.UpdateRole(context.Background(), "Scheduler", schedulerConfig()))
	assert.Contains(t, q.sql, `"admin"."admin_update_role"($1, $2::jsonb)`)
	require.Len(t, q.args, 2)
	assert.Equal(t, "Scheduler", q.args[0])
	assert.JSONEq(t, `{"permissions":[{"resource":"jobs","action":"view","scope":"division"}]}`, string(q.args[1].([]byte)))
}

func TestPostgresRPCResults(t *testing.T) {
	cases := []struct {
		name string
		row  textRow
		want error
	}{
		{name: "void", row: textRow{value: pgtype.Text{String: "", Valid: true}}},
		{name: "null", row: textRow{}},
		{name: "false", row: textRow{value: pgtype.Text{String: "false", Valid: true}}, want: ErrRejected},
		{name: "missing function", row: textRow{err: &pgconn.PgError{Code: "42883", Message: "function does not exist"}}, want: ErrCapabilityUnavailable},
		{name: "no grant", row: textRow{err: &pgconn.PgError{Code: "42501"}}, want: ErrCapabilityUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rpc := NewPostgresRPC(&rowQuerier{row: tc.row}, "tenant_admin")
			err := rpc.DeleteRole(context.Background(), "Scheduler")
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClassifyKeepsTransientErrors(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.Equal(t, errRemoteDown, classify(errRemoteDown))

	deadlock := &pgconn.PgError{Code: "40P01"}
	err := classify(deadlock)
	assert.False(t, errors.Is(err, ErrCapabilityUnavailable))

	wrapped := classify(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"}))
	assert.ErrorIs(t, wrapped, ErrCapabilityUnavailable)
}

func TestDecodeRoleConfig(t *testing.T) {
	cfg, err := decodeRoleConfig(nil)
	require.NoError(t, err)
	assert.True(t, cfg.Inherits())

	cfg, err = decodeRoleConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, cfg.Inherits())

	cfg, err = decodeRoleConfig([]byte(`{"permissions":[]}`))
	require.NoError(t, err)
	assert.False(t, cfg.Inherits())
	assert.True(t, cfg.Empty())

	_, err = decodeRoleConfig([]byte(`{"permissions":`))
	require.Error(t, err)
}

const schedulerJSON = `{"permissions":[{"resource":"jobs","action":"view","scope":"division"}]}`

type configRow struct {
	raw []byte
	err error
}

func (r configRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	target, ok := dest[0].(*[]byte)
	if !ok {
		return fmt.Errorf("unexpected destination %T", dest[0])
	}
	*target = r.raw
	return nil
}

type execCall struct {
	sql  string
	args []any
}

// fakeTx records statements; methods the table tier never calls stay nil.
type fakeTx struct {
	pgx.Tx
	lock       pgx.Row
	failOn     string
	execs      []execCall
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if !strings.Contains(sql, "FOR UPDATE") {
		return configRow{err: fmt.Errorf("unexpected query %q", sql)}
	}
	return tx.lock
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, execCall{sql: sql, args: args})
	if tx.failOn != "" && strings.Contains(sql, tx.failOn) {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeRows struct {
	pgx.Rows
	data   [][]any
	next   int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.next >= len(r.data) {
		return false
	}
	r.next++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.next-1]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i := range dest {
		if err := assignColumn(dest[i], row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Close() { r.closed = true }

func assignColumn(dest, value any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("column %v is not text", value)
		}
		*d = v
	case *[]byte:
		if value == nil {
			*d = nil
			return nil
		}
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("column %v is not json", value)
		}
		*d = []byte(v)
	case *pgtype.Timestamptz:
		if value == nil {
			*d = pgtype.Timestamptz{}
			return nil
		}
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("column %v is not a timestamp", value)
		}
		*d = pgtype.Timestamptz{Time: v, Valid: true}
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

type fakeTxDB struct {
	tx     *fakeTx
	rows   *fakeRows
	err    error
	sql    string
	begins int
}

func (d *fakeTxDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	d.sql = sql
	if d.err != nil {
		return nil, d.err
	}
	return d.rows, nil
}

func (d *fakeTxDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return configRow{err: errors.New("unexpected QueryRow outside a transaction")}
}

func (d *fakeTxDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	d.begins++
	return d.tx, nil
}

func tableMutation() Mutation {
	return Mutation{
		Role:        "Scheduler",
		Config:      schedulerConfig(),
		Actor:       shared.Actor{UserID: "u-7", IPAddress: "10.0.0.9", UserAgent: "portal-admin"},
		RequestedAt: fixedNow(),
	}
}

func TestPostgresTablesUpsertNewRoleAuditsCreate(t *testing.T) {
	tx := &fakeTx{lock: configRow{err: pgx.ErrNoRows}}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "")

	require.NoError(t, tables.UpsertRole(context.Background(), tableMutation()))
	require.Len(t, tx.execs, 2)
	assert.Contains(t, tx.execs[0].sql, `INSERT INTO "admin"."custom_roles"`)
	assert.Equal(t, "Scheduler", tx.execs[0].args[0])
	assert.JSONEq(t, schedulerJSON, string(tx.execs[0].args[1].([]byte)))
	assert.Equal(t, "u-7", tx.execs[0].args[2])

	entry := tx.execs[1]
	assert.Contains(t, entry.sql, `"admin"."role_audit_logs"`)
	assert.Equal(t, "create", entry.args[2])
	assert.Nil(t, entry.args[3])
	assert.JSONEq(t, schedulerJSON, string(entry.args[4].([]byte)))
	assert.Equal(t, "u-7", entry.args[5])
	assert.Equal(t, "10.0.0.9", entry.args[6])
	assert.Equal(t, "portal-admin", entry.args[7])
	assert.True(t, tx.committed)
}

func TestPostgresTablesUpsertExistingRoleAuditsUpdate(t *testing.T) {
	previous := `{"permissions":[{"resource":"jobs","action":"view","scope":"all"}]}`
	tx := &fakeTx{lock: configRow{raw: []byte(previous)}}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "")

	require.NoError(t, tables.UpsertRole(context.Background(), tableMutation()))
	require.Len(t, tx.execs, 2)
	assert.Equal(t, "update", tx.execs[1].args[2])
	assert.JSONEq(t, previous, string(tx.execs[1].args[3].([]byte)))
	assert.JSONEq(t, schedulerJSON, string(tx.execs[1].args[4].([]byte)))
	assert.True(t, tx.committed)
}

func TestPostgresTablesUpsertOverNullConfigIsUpdate(t *testing.T) {
	tx := &fakeTx{lock: configRow{raw: nil}}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "")

	require.NoError(t, tables.UpsertRole(context.Background(), tableMutation()))
	require.Len(t, tx.execs, 2)
	assert.Equal(t, "update", tx.execs[1].args[2])
	assert.JSONEq(t, `{"permissions":null}`, string(tx.execs[1].args[3].([]byte)), "NULL config is recorded as inherit")
}

func TestPostgresTablesAuditFailureRollsBack(t *testing.T) {
	tx := &fakeTx{lock: configRow{err: pgx.ErrNoRows}, failOn: "role_audit_logs"}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "")

	require.Error(t, tables.UpsertRole(context.Background(), tableMutation()))
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestPostgresTablesDeleteAbsentRoleIsNoop(t *testing.T) {
	tx := &fakeTx{lock: configRow{err: pgx.ErrNoRows}}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "")

	require.NoError(t, tables.DeleteRole(context.Background(), tableMutation()))
	assert.Empty(t, tx.execs, "no delete and no audit row for a missing role")
}

func TestPostgresTablesDeleteAuditsPreviousConfig(t *testing.T) {
	tx := &fakeTx{lock: configRow{raw: []byte(schedulerJSON)}}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "tenant_admin")

	require.NoError(t, tables.DeleteRole(context.Background(), tableMutation()))
	require.Len(t, tx.execs, 2)
	assert.Contains(t, tx.execs[0].sql, `DELETE FROM "tenant_admin"."custom_roles"`)
	assert.Equal(t, "Scheduler", tx.execs[0].args[0])

	entry := tx.execs[1]
	assert.Contains(t, entry.sql, `"tenant_admin"."role_audit_logs"`)
	assert.Equal(t, "delete", entry.args[2])
	assert.JSONEq(t, schedulerJSON, string(entry.args[3].([]byte)))
	assert.Nil(t, entry.args[4])
	assert.True(t, tx.committed)
}

func TestPostgresTablesMissingTableIsUnavailable(t *testing.T) {
	tx := &fakeTx{lock: configRow{err: &pgconn.PgError{Code: "42P01"}}}
	tables := NewPostgresTables(&fakeTxDB{tx: tx}, "")

	err := tables.UpsertRole(context.Background(), tableMutation())
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
	assert.Empty(t, tx.execs)
	assert.True(t, tx.rolledBack)
}

func TestPostgresTablesListCustomRoles(t *testing.T) {
	created := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	rows := &fakeRows{data: [][]any{
		{"Admin", nil, nil, nil, ""},
		{"Scheduler", schedulerJSON, created, updated, "u-1"},
	}}
	q := &fakeTxDB{rows: rows}
	tables := NewPostgresTables(q, "")

	roles, err := tables.ListCustomRoles(context.Background())
	require.NoError(t, err)
	assert.Contains(t, q.sql, `FROM "admin"."custom_roles"`)
	assert.True(t, rows.closed)
	require.Len(t, roles, 2)

	assert.Equal(t, "Admin", roles[0].Name)
	assert.True(t, roles[0].Config.Inherits(), "NULL config inherits the built-in role")
	assert.True(t, roles[0].UpdatedAt.IsZero())

	assert.True(t, roles[1].Config.Equal(schedulerConfig()))
	assert.True(t, roles[1].CreatedAt.Equal(created))
	assert.True(t, roles[1].UpdatedAt.Equal(updated))
	assert.Equal(t, "u-1", roles[1].CreatedBy)
}

func TestPostgresTablesListErrors(t *testing.T) {
	tables := NewPostgresTables(&fakeTxDB{err: &pgconn.PgError{Code: "42P01"}}, "")
	_, err := tables.ListCustomRoles(context.Background())
	require.ErrorIs(t, err, ErrCapabilityUnavailable)

	rows := &fakeRows{data: [][]any{{"Scheduler", `{"permissions":`, nil, nil, ""}}}
	tables = NewPostgresTables(&fakeTxDB{rows: rows}, "")
	_, err = tables.ListCustomRoles(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Scheduler")
	assert.True(t, rows.closed)
}
