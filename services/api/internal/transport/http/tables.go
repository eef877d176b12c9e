package http

import (
	"context"
	"net/http"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"go.uber.org/zap"
)

// TableLister is the minimal interface needed for the floor view.
type TableLister interface {
	ListTables(ctx context.Context) ([]domain.Table, error)
}

// HandleListTables returns an HTTP handler for GET /tables.
func HandleListTables(svc TableLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		tables, err := svc.ListTables(r.Context())
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		resp := make([]tableResponse, 0, len(tables))
		for _, t := range tables {
			resp = append(resp, tableResponse{
				ID:         t.ID,
				Label:      t.Label,
				Status:     string(t.Status),
				OpenOrders: t.OpenOrders,
				UpdatedAt:  t.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type tableResponse struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Status     string    `json:"status"`
	OpenOrders int       `json:"open_orders"`
	UpdatedAt  time.Time `json:"updated_at"`
}
