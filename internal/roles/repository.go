package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/portal/internal/audit"
	"github.com/odyssey-erp/portal/internal/platform/db"
	"github.com/odyssey-erp/portal/internal/rbac"
)

// DefaultSchema is the administrative namespace holding the policy objects.
const DefaultSchema = "admin"

const customRolesTable = "custom_roles"

// Privileged functions deployed in the administrative schema.
const (
	fnGetCustomRoles = "admin_get_custom_roles"
	fnUpdateRole     = "admin_update_role"
	fnDeleteRole     = "admin_delete_role"
)

// SQLSTATE codes meaning the capability is not deployed or not granted.
var unavailableCodes = map[string]struct{}{
	"42883": {}, // undefined_function
	"42P01": {}, // undefined_table
	"3F000": {}, // invalid_schema_name
	"42501": {}, // insufficient_privilege
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxQuerier adds transactions to Querier.
type TxQuerier interface {
	Querier
	db.TxBeginner
}

// PostgresRPC calls the privileged policy functions.
type PostgresRPC struct {
	db     Querier
	schema string
}

// NewPostgresRPC constructs the RPC tier backend.
func NewPostgresRPC(q Querier, schema string) *PostgresRPC {
	if schema == "" {
		schema = DefaultSchema
	}
	return &PostgresRPC{db: q, schema: schema}
}

// GetCustomRoles calls admin_get_custom_roles().
func (p *PostgresRPC) GetCustomRoles(ctx context.Context) ([]CustomRole, error) {
	query := fmt.Sprintf(`SELECT name, config, created_at, updated_at, COALESCE(created_by::text, '') FROM %s()`,
		pgx.Identifier{p.schema, fnGetCustomRoles}.Sanitize())
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	roles, err := scanCustomRoles(rows)
	return roles, classify(err)
}

// UpdateRole calls admin_update_role(role_name, role_config).
func (p *PostgresRPC) UpdateRole(ctx context.Context, name rbac.RoleName, cfg rbac.RolePermissions) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("roles: encode config: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s($1, $2::jsonb)::text`, pgx.Identifier{p.schema, fnUpdateRole}.Sanitize())
	return p.callBool(ctx, query, name, raw)
}

// DeleteRole calls admin_delete_role(role_name).
func (p *PostgresRPC) DeleteRole(ctx context.Context, name rbac.RoleName) error {
	query := fmt.Sprintf(`SELECT %s($1)::text`, pgx.Identifier{p.schema, fnDeleteRole}.Sanitize())
	return p.callBool(ctx, query, name)
}

// callBool accepts void, NULL and true results; false means the function
// refused the change.
func (p *PostgresRPC) callBool(ctx context.Context, query string, args ...any) error {
	var result pgtype.Text
	if err := p.db.QueryRow(ctx, query, args...).Scan(&result); err != nil {
		return classify(err)
	}
	if result.Valid && (result.String == "false" || result.String == "f") {
		return ErrRejected
	}
	return nil
}

// PostgresTables reads and writes custom_roles directly. Writes append the
// matching role_audit_logs row in the same transaction.
type PostgresTables struct {
	db     TxQuerier
	schema string
	table  string
}

// NewPostgresTables constructs the table tier backend.
func NewPostgresTables(q TxQuerier, schema string) *PostgresTables {
	if schema == "" {
		schema = DefaultSchema
	}
	return &PostgresTables{db: q, schema: schema, table: pgx.Identifier{schema, customRolesTable}.Sanitize()}
}

// ListCustomRoles selects every row of custom_roles.
func (p *PostgresTables) ListCustomRoles(ctx context.Context) ([]CustomRole, error) {
	query := fmt.Sprintf(`SELECT name, config, created_at, updated_at, COALESCE(created_by::text, '') FROM %s ORDER BY name`, p.table)
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	roles, err := scanCustomRoles(rows)
	return roles, classify(err)
}

// UpsertRole inserts or replaces the role row.
func (p *PostgresTables) UpsertRole(ctx context.Context, mut Mutation) error {
	raw, err := json.Marshal(mut.Config)
	if err != nil {
		return fmt.Errorf("roles: encode config: %w", err)
	}
	err = db.WithTx(ctx, p.db, func(tx pgx.Tx) error {
		previous, existed, err := p.lockRow(ctx, tx, mut.Role)
		if err != nil {
			return err
		}
		upsert := fmt.Sprintf(`INSERT INTO %s (name, config, created_at, updated_at, created_by)
VALUES ($1, $2::jsonb, NOW(), NOW(), NULLIF($3, ''))
ON CONFLICT (name) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()`, p.table)
		if _, err := tx.Exec(ctx, upsert, mut.Role, raw, mut.Actor.UserID); err != nil {
			return err
		}
		action := audit.ActionCreate
		if existed {
			action = audit.ActionUpdate
		}
		next := mut.Config.Clone()
		return audit.Append(ctx, tx, p.schema, auditEntry(mut, action, previous, &next))
	})
	return classify(err)
}

// DeleteRole removes the role row. A missing row is not an error.
func (p *PostgresTables) DeleteRole(ctx context.Context, mut Mutation) error {
	err := db.WithTx(ctx, p.db, func(tx pgx.Tx) error {
		previous, existed, err := p.lockRow(ctx, tx, mut.Role)
		if err != nil {
			return err
		}
		if !existed {
			return nil
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, p.table), mut.Role); err != nil {
			return err
		}
		return audit.Append(ctx, tx, p.schema, auditEntry(mut, audit.ActionDelete, previous, nil))
	})
	return classify(err)
}

func (p *PostgresTables) lockRow(ctx context.Context, tx pgx.Tx, name rbac.RoleName) (*rbac.RolePermissions, bool, error) {
	var raw []byte
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT config FROM %s WHERE name = $1 FOR UPDATE`, p.table), name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cfg, err := decodeRoleConfig(raw)
	if err != nil {
		return nil, true, err
	}
	return &cfg, true, nil
}

func auditEntry(mut Mutation, action audit.Action, previous, next *rbac.RolePermissions) audit.Entry {
	return audit.Entry{
		RoleName:       mut.Role,
		Action:         action,
		PreviousConfig: previous,
		NewConfig:      next,
		UserID:         mut.Actor.UserID,
		IPAddress:      mut.Actor.IPAddress,
		UserAgent:      mut.Actor.UserAgent,
	}
}

func scanCustomRoles(rows pgx.Rows) ([]CustomRole, error) {
	defer rows.Close()
	var roles []CustomRole
	for rows.Next() {
		var (
			role      CustomRole
			raw       []byte
			createdAt pgtype.Timestamptz
			updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&role.Name, &raw, &createdAt, &updatedAt, &role.CreatedBy); err != nil {
			return nil, err
		}
		cfg, err := decodeRoleConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("roles: decode config of %s: %w", role.Name, err)
		}
		role.Config = cfg
		if createdAt.Valid {
			role.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			role.UpdatedAt = updatedAt.Time
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// decodeRoleConfig parses a stored config. NULL or an object without
// permissions inherits the built-in role.
func decodeRoleConfig(raw []byte) (rbac.RolePermissions, error) {
	var cfg rbac.RolePermissions
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return rbac.RolePermissions{}, err
	}
	return cfg, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := unavailableCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %w", ErrCapabilityUnavailable, err)
		}
	}
	return err
}
