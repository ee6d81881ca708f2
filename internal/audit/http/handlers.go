package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/portal/internal/audit"
	"github.com/odyssey-erp/portal/internal/platform/httpx"
)

// LogReader is the audit trail contract consumed by the handler.
type LogReader interface {
	List(ctx context.Context, limit int, roleName string) []audit.Entry
}

// Handler serves role audit history.
type Handler struct {
	logger *slog.Logger
	reader LogReader
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, reader LogReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reader: reader}
}

type listResponse struct {
	Entries []audit.Entry `json:"entries"`
	Limit   int           `json:"limit"`
	Role    string        `json:"role,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	entries := h.reader.List(r.Context(), limit, role)
	httpx.JSON(w, http.StatusOK, listResponse{Entries: entries, Limit: limit, Role: role})
}
