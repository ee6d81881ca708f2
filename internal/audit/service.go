package audit

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	// DefaultLimit applies when callers pass a non-positive limit.
	DefaultLimit = 50
	// MaxLimit caps a single read.
	MaxLimit = 500
)

// ListParams are the query parameters handed to the repository.
type ListParams struct {
	RoleName pgtype.Text
	Limit    int32
}

// Repository reads the role audit trail.
type Repository interface {
	ListRoleAuditLogs(ctx context.Context, arg ListParams) ([]Entry, error)
}

// Reader is a best-effort, read-only view of role mutation history.
type Reader struct {
	repo         Repository
	logger       *slog.Logger
	defaultLimit int
}

// NewReader builds a Reader. defaultLimit falls back to DefaultLimit when non-positive.
func NewReader(repo Repository, logger *slog.Logger, defaultLimit int) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLimit <= 0 || defaultLimit > MaxLimit {
		defaultLimit = DefaultLimit
	}
	return &Reader{repo: repo, logger: logger, defaultLimit: defaultLimit}
}

// List returns up to limit entries, newest first, optionally filtered by role.
// Any failure yields an empty slice: callers cannot tell "no history" from
// "read failed".
func (r *Reader) List(ctx context.Context, limit int, roleName string) []Entry {
	if r == nil || r.repo == nil {
		return []Entry{}
	}
	params := ListParams{
		RoleName: optionalText(roleName),
		Limit:    int32(r.normalizeLimit(limit)),
	}
	entries, err := r.repo.ListRoleAuditLogs(ctx, params)
	if err != nil {
		r.logger.Warn("role audit logs unavailable",
			slog.String("role", roleName),
			slog.Int("limit", int(params.Limit)),
			slog.Any("error", err))
		return []Entry{}
	}
	if entries == nil {
		return []Entry{}
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if len(entries) > int(params.Limit) {
		entries = entries[:params.Limit]
	}
	return entries
}

func (r *Reader) normalizeLimit(limit int) int {
	if limit <= 0 {
		return r.defaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
