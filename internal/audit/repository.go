package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/portal/internal/rbac"
)

// TableName is the unqualified audit table.
const TableName = "role_audit_logs"

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository reads the audit table directly.
type PostgresRepository struct {
	db    Querier
	table string
}

// NewPostgresRepository constructs a repository for the table in schema.
func NewPostgresRepository(db Querier, schema string) *PostgresRepository {
	return &PostgresRepository{db: db, table: QualifiedTable(schema)}
}

// QualifiedTable returns the sanitized schema-qualified audit table name.
func QualifiedTable(schema string) string {
	if schema == "" {
		return pgx.Identifier{TableName}.Sanitize()
	}
	return pgx.Identifier{schema, TableName}.Sanitize()
}

// ListRoleAuditLogs returns entries newest first.
func (r *PostgresRepository) ListRoleAuditLogs(ctx context.Context, arg ListParams) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT id::text, role_name, action, previous_config, new_config,
	COALESCE(user_id, ''), COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
FROM %s
WHERE ($1::text IS NULL OR role_name = $1)
ORDER BY created_at DESC
LIMIT $2`, r.table)
	rows, err := r.db.Query(ctx, query, arg.RoleName, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			action   string
			previous []byte
			next     []byte
		)
		if err := rows.Scan(&entry.ID, &entry.RoleName, &action, &previous, &next,
			&entry.UserID, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Action = Action(action)
		if entry.PreviousConfig, err = decodeConfig(previous); err != nil {
			return nil, fmt.Errorf("audit: decode previous_config of %s: %w", entry.ID, err)
		}
		if entry.NewConfig, err = decodeConfig(next); err != nil {
			return nil, fmt.Errorf("audit: decode new_config of %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Append inserts entry using exec, normally a transaction shared with the
// role change it records. Missing ids and timestamps are filled in.
func Append(ctx context.Context, exec Execer, schema string, entry Entry) error {
	if entry.RoleName == "" || entry.Action == "" {
		return fmt.Errorf("audit: entry requires role_name and action")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	previous, err := encodeConfig(entry.PreviousConfig)
	if err != nil {
		return err
	}
	next, err := encodeConfig(entry.NewConfig)
	if err != nil {
		return err
	}
	var createdAt *time.Time
	if !entry.CreatedAt.IsZero() {
		createdAt = &entry.CreatedAt
	}
	query := fmt.Sprintf(`INSERT INTO %s
	(id, role_name, action, previous_config, new_config, user_id, ip_address, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), COALESCE($9, NOW()))`,
		QualifiedTable(schema))
	_, err = exec.Exec(ctx, query, entry.ID, entry.RoleName, string(entry.Action), previous, next,
		entry.UserID, entry.IPAddress, entry.UserAgent, createdAt)
	if err != nil {
		return fmt.Errorf("audit: append %s %s: %w", entry.Action, entry.RoleName, err)
	}
	return nil
}

func decodeConfig(raw []byte) (*rbac.RolePermissions, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var cfg rbac.RolePermissions
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func encodeConfig(cfg *rbac.RolePermissions) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: encode config: %w", err)
	}
	return raw, nil
}
