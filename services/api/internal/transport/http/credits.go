package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"go.uber.org/zap"
)

// CreditReader is the minimal interface needed to look up customer credit.
type CreditReader interface {
	Balance(ctx context.Context, customerName string) (domain.CustomerCredit, error)
}

// HandleGetCredit returns an HTTP handler for GET /credits/{name}.
func HandleGetCredit(svc CreditReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		name, ok := parseCreditPath(r.URL.EscapedPath())
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		credit, err := svc.Balance(r.Context(), name)
		if err != nil {
			writeDomainError(w, err, logger)
			return
		}

		resp := creditResponse{
			ID:           credit.ID,
			CustomerName: credit.CustomerName,
			CustomerKey:  credit.CustomerKey,
			Balance:      formatMoney(credit.Balance),
			Entries:      make([]creditEntryResponse, 0, len(credit.Entries)),
			UpdatedAt:    credit.UpdatedAt,
		}
		for _, e := range credit.Entries {
			resp.Entries = append(resp.Entries, newCreditEntryResponse(e))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func parseCreditPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] != "credits" {
		return "", false
	}
	name, err := url.PathUnescape(parts[1])
	if err != nil || strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

type creditResponse struct {
	ID           string                `json:"id"`
	CustomerName string                `json:"customer_name"`
	CustomerKey  string                `json:"customer_key"`
	Balance      string                `json:"balance"`
	Entries      []creditEntryResponse `json:"entries"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type creditEntryResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount"`
	OrderID   string    `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
}

func newCreditEntryResponse(e domain.CreditEntry) creditEntryResponse {
	return creditEntryResponse{
		ID:        e.ID,
		Kind:      string(e.Kind),
		Amount:    formatMoney(e.Amount),
		OrderID:   e.OrderID,
		PaymentID: e.PaymentID,
		CreatedAt: e.CreatedAt,
	}
}
